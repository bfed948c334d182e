package tasks

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mikestefanello/backlite"
)

// EmbeddingGenerator computes search embedding vectors for stored memes.
// The model behind it is pluggable; a nil generator makes the queue a no-op.
type EmbeddingGenerator interface {
	// GenerateForMeme recomputes the vector of a single meme.
	GenerateForMeme(ctx context.Context, memeID uint) error
	// GenerateMissing computes vectors for every meme that lacks one.
	GenerateMissing(ctx context.Context) error
}

// GenerateEmbeddingsTask computes embedding vectors. A zero MemeID means
// "sweep everything that is missing a vector".
type GenerateEmbeddingsTask struct {
	MemeID uint `json:"meme_id"`
}

// Config returns the queue configuration for embedding generation tasks.
func (t GenerateEmbeddingsTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "generate_embeddings",
		MaxAttempts: 3,
		Backoff:     1 * time.Minute,
		Timeout:     5 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// GenerateEmbeddingsProcessor creates a processor function for GenerateEmbeddingsTask.
func GenerateEmbeddingsProcessor(generator EmbeddingGenerator) backlite.QueueProcessor[GenerateEmbeddingsTask] {
	return func(ctx context.Context, task GenerateEmbeddingsTask) error {
		if generator == nil {
			log.Printf("[TASK] No embedding generator configured, skipping")
			return nil
		}

		if task.MemeID == 0 {
			if err := generator.GenerateMissing(ctx); err != nil {
				return fmt.Errorf("generate missing embeddings: %w", err)
			}
			return nil
		}

		if err := generator.GenerateForMeme(ctx, task.MemeID); err != nil {
			return fmt.Errorf("generate embeddings for meme %d: %w", task.MemeID, err)
		}
		return nil
	}
}

// NewGenerateEmbeddingsQueue creates a backlite queue for embedding tasks.
func NewGenerateEmbeddingsQueue(generator EmbeddingGenerator) backlite.Queue {
	return backlite.NewQueue(GenerateEmbeddingsProcessor(generator))
}

// EmbeddingScheduler enqueues embedding generation through the task queue.
// It satisfies the scheduler interface the import coordinator expects.
type EmbeddingScheduler struct {
	client *Client
}

func NewEmbeddingScheduler(client *Client) *EmbeddingScheduler {
	return &EmbeddingScheduler{client: client}
}

// ScheduleGeneration enqueues a sweep over memes missing vectors.
func (s *EmbeddingScheduler) ScheduleGeneration() error {
	_, err := s.client.Add(GenerateEmbeddingsTask{}).Save()
	return err
}

// MarkForRegeneration enqueues regeneration for one meme after a metadata
// update.
func (s *EmbeddingScheduler) MarkForRegeneration(memeID uint) error {
	_, err := s.client.Add(GenerateEmbeddingsTask{MemeID: memeID}).Save()
	return err
}
