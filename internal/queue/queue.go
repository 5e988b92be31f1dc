package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	QueueRender = "queue:render"

	JobTypeRender = "render"
)

type Queue struct {
	client *redis.Client
}

// Job carries only identifiers; the worker reads the rest from the database.
type Job struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	RenderID  uuid.UUID `json:"render_id"`
	CreatedAt time.Time `json:"created_at"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) Enqueue(ctx context.Context, queueName string, job *Job) error {
	job.CreatedAt = time.Now()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return q.client.RPush(ctx, queueName, data).Err()
}

func (q *Queue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, queueName).Result()
	if err == redis.Nil {
		return nil, nil // No job available
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	var job Job
	if err := decodeJob(result[1], &job); err != nil {
		return nil, err
	}

	return &job, nil
}

func decodeJob(raw string, job *Job) error {
	if err := json.Unmarshal([]byte(raw), job); err != nil {
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.RenderID == uuid.Nil {
		return fmt.Errorf("job %s has no render id", job.ID)
	}
	return nil
}

func (q *Queue) GetQueueLength(ctx context.Context, queueName string) (int64, error) {
	return q.client.LLen(ctx, queueName).Result()
}

// EnqueueRender enqueues a topic-to-video render job
func (q *Queue) EnqueueRender(ctx context.Context, renderID uuid.UUID) error {
	job := &Job{
		ID:       uuid.New(),
		Type:     JobTypeRender,
		RenderID: renderID,
	}
	return q.Enqueue(ctx, QueueRender, job)
}

// Ping reports whether Redis is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
