package clips

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/yeti47/replaybuffer/ccc/logging"
)

type DeleteReplaysRequest struct {
	ReplayIDs []string `json:"replay_ids"`
}

type DeleteReplaysResponse struct {
	DeletedReplays []string `json:"deleted_replays"`
	FailedReplays  []string `json:"failed_replays"`
	Errors         []string `json:"errors"`
}

type ReplayDeleter interface {
	// DeleteReplays removes replay files and their catalog entries
	DeleteReplays(ctx context.Context, req DeleteReplaysRequest) (*DeleteReplaysResponse, error)
}

type replayDeleter struct {
	logger logging.Logger
	repo   ReplayRepository
}

func NewReplayDeleter(logger logging.Logger, repo ReplayRepository) *replayDeleter {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &replayDeleter{
		logger: logger,
		repo:   repo,
	}
}

func (d *replayDeleter) DeleteReplays(ctx context.Context, req DeleteReplaysRequest) (*DeleteReplaysResponse, error) {
	if len(req.ReplayIDs) == 0 {
		return nil, errors.New("no replay IDs provided")
	}

	response := &DeleteReplaysResponse{
		DeletedReplays: make([]string, 0),
		FailedReplays:  make([]string, 0),
		Errors:         make([]string, 0),
	}

	for _, id := range req.ReplayIDs {
		if err := d.deleteReplay(ctx, id); err != nil {
			d.logger.Error("Failed to delete replay", "replay_id", id, "error", err)
			response.FailedReplays = append(response.FailedReplays, id)
			response.Errors = append(response.Errors, err.Error())
			continue
		}

		response.DeletedReplays = append(response.DeletedReplays, id)
		d.logger.Info("Deleted replay", "replay_id", id)
	}

	return response, nil
}

func (d *replayDeleter) deleteReplay(ctx context.Context, id string) error {
	replay, err := d.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if replay == nil {
		return fmt.Errorf("replay %s not found", id)
	}

	// the file may already be gone if the user removed it by hand
	if err := os.Remove(replay.FilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete replay file %s: %w", replay.FilePath, err)
	}

	return d.repo.Delete(ctx, id)
}
