package service

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"quotad/internal/model"
	"quotad/internal/repository"
)

// LimitsService resolves effective hard limits and administers limit rows.
type LimitsService interface {
	// GetLimits returns the effective project-level and user-level limits
	// for every defined resource. Resolution order: resource default, then
	// the "default" quota class, then the project quota row; the user limit
	// is the per-user override when one exists. Per-project-only resources
	// never have an override, so their user limit equals the project limit.
	// A negative limit means unlimited.
	GetLimits(ctx context.Context, projectID, userID string) (project, user map[string]int64, err error)

	// CreateLimit and UpdateLimit administer limit rows. A limit for a
	// per-project-only resource is always written at project level even
	// when a user is named.
	CreateLimit(ctx context.Context, upd QuotaUpdate) error
	UpdateLimit(ctx context.Context, upd QuotaUpdate) error

	// DestroyAllByProject purges the project's quotas, usage rows and
	// reservations; DestroyAllByProjectAndUser purges one user's share.
	DestroyAllByProject(ctx context.Context, projectID string) error
	DestroyAllByProjectAndUser(ctx context.Context, projectID, userID string) error
}

// QuotaUpdate is an administrative change to one hard limit.
type QuotaUpdate struct {
	ProjectID string `validate:"required"`
	UserID    string
	Resource  string `validate:"required"`
	HardLimit int64  `validate:"gte=-1"`
}

type limitsService struct {
	repo      repository.QuotaRepository
	resources model.Resources
	validate  *validator.Validate
	logger    zerolog.Logger
}

// NewLimitsService creates a LimitsService over the given limit rows.
func NewLimitsService(repo repository.QuotaRepository, resources model.Resources, logger zerolog.Logger) LimitsService {
	return &limitsService{
		repo:      repo,
		resources: resources,
		validate:  validator.New(),
		logger:    logger.With().Str("service", "LimitsService").Logger(),
	}
}

func (s *limitsService) GetLimits(ctx context.Context, projectID, userID string) (map[string]int64, map[string]int64, error) {
	classLimits, err := s.repo.ClassLimits(ctx, model.DefaultQuotaClassName)
	if err != nil {
		return nil, nil, fmt.Errorf("reading default class limits: %w", err)
	}
	projectRows, err := s.repo.ProjectLimits(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("reading project limits: %w", err)
	}
	userRows := map[string]int64{}
	if userID != "" {
		userRows, err = s.repo.UserLimits(ctx, projectID, userID)
		if err != nil {
			return nil, nil, fmt.Errorf("reading user limits: %w", err)
		}
	}

	project := make(map[string]int64, len(s.resources))
	user := make(map[string]int64, len(s.resources))
	for name, def := range s.resources {
		limit := def.DefaultLimit
		if v, ok := classLimits[name]; ok {
			limit = v
		}
		if v, ok := projectRows[name]; ok {
			limit = v
		}
		project[name] = limit

		userLimit := limit
		if !def.PerProject {
			if v, ok := userRows[name]; ok {
				userLimit = v
			}
		}
		user[name] = userLimit
	}
	return project, user, nil
}

func (s *limitsService) CreateLimit(ctx context.Context, upd QuotaUpdate) error {
	userID, err := s.checkUpdate(upd)
	if err != nil {
		return err
	}
	if err := s.repo.CreateLimit(ctx, upd.ProjectID, userID, upd.Resource, upd.HardLimit); err != nil {
		return err
	}
	s.logger.Info().
		Str("project_id", upd.ProjectID).
		Str("user_id", upd.UserID).
		Str("resource", upd.Resource).
		Int64("hard_limit", upd.HardLimit).
		Msg("quota limit created")
	return nil
}

func (s *limitsService) UpdateLimit(ctx context.Context, upd QuotaUpdate) error {
	userID, err := s.checkUpdate(upd)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateLimit(ctx, upd.ProjectID, userID, upd.Resource, upd.HardLimit); err != nil {
		return err
	}
	s.logger.Info().
		Str("project_id", upd.ProjectID).
		Str("user_id", upd.UserID).
		Str("resource", upd.Resource).
		Int64("hard_limit", upd.HardLimit).
		Msg("quota limit updated")
	return nil
}

// checkUpdate validates the change and decides whether it targets a
// per-user override or the project quota row.
func (s *limitsService) checkUpdate(upd QuotaUpdate) (*string, error) {
	if err := s.validate.Struct(upd); err != nil {
		return nil, fmt.Errorf("invalid quota update: %w", err)
	}
	def, ok := s.resources[upd.Resource]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, upd.Resource)
	}
	if upd.UserID == "" || def.PerProject {
		return nil, nil
	}
	userID := upd.UserID
	return &userID, nil
}

func (s *limitsService) DestroyAllByProject(ctx context.Context, projectID string) error {
	if err := s.repo.DestroyAllByProject(ctx, projectID); err != nil {
		return err
	}
	s.logger.Info().Str("project_id", projectID).Msg("project quotas purged")
	return nil
}

func (s *limitsService) DestroyAllByProjectAndUser(ctx context.Context, projectID, userID string) error {
	if err := s.repo.DestroyAllByProjectAndUser(ctx, projectID, userID); err != nil {
		return err
	}
	s.logger.Info().
		Str("project_id", projectID).
		Str("user_id", userID).
		Msg("user quotas purged")
	return nil
}
