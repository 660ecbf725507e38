package endpoints

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/hexrift/zentla-sub005/internal/model"
	"github.com/hexrift/zentla-sub005/internal/repository"
	"github.com/hexrift/zentla-sub005/internal/util"
)

var (
	ErrInvalidURL = errors.New("invalid endpoint url")
	ErrNoEvents   = errors.New("at least one event type is required")
	ErrNotFound   = errors.New("endpoint not found")
)

// Service manages subscriber endpoints: creation with a one-time-visible
// secret, wholesale event-set updates, secret rotation, and deletion.
type Service struct {
	endpoints repository.EndpointsRepository
}

func New(endpointsRepo repository.EndpointsRepository) *Service {
	return &Service{endpoints: endpointsRepo}
}

type CreateInput struct {
	URL         string
	Events      []string
	Description string
	Metadata    json.RawMessage
}

// Create registers an active endpoint and returns it with the generated
// secret. The secret is not readable through List/Get responses afterwards.
func (s *Service) Create(ctx context.Context, workspaceID int64, in CreateInput) (*model.WebhookEndpoint, error) {
	if err := validateURL(in.URL); err != nil {
		return nil, err
	}
	evts := normalizeEvents(in.Events)
	if len(evts) == 0 {
		return nil, ErrNoEvents
	}

	ep := &model.WebhookEndpoint{
		ID:          util.New(),
		WorkspaceID: workspaceID,
		URL:         strings.TrimSpace(in.URL),
		Secret:      util.NewSecret(),
		Events:      evts,
		Status:      model.EndpointActive,
		Description: strings.TrimSpace(in.Description),
		Metadata:    in.Metadata,
	}
	if err := s.endpoints.Insert(ctx, nil, ep); err != nil {
		return nil, err
	}

	return ep, nil
}

type UpdateInput struct {
	URL         *string
	Events      []string // non-nil replaces the whole set
	Status      *string
	Description *string
	Metadata    json.RawMessage
}

func (s *Service) Update(ctx context.Context, workspaceID int64, id string, in UpdateInput) (*model.WebhookEndpoint, error) {
	ep, err := s.get(ctx, workspaceID, id)
	if err != nil {
		return nil, err
	}

	var upd repository.EndpointUpdate
	if in.URL != nil {
		if err := validateURL(*in.URL); err != nil {
			return nil, err
		}
		u := strings.TrimSpace(*in.URL)
		upd.URL = &u
	}
	if in.Events != nil {
		evts := normalizeEvents(in.Events)
		if len(evts) == 0 {
			return nil, ErrNoEvents
		}
		upd.Events = &evts
	}
	if in.Status != nil {
		st := model.EndpointStatus(strings.ToLower(strings.TrimSpace(*in.Status)))
		if !st.Valid() {
			return nil, errors.New("invalid status")
		}
		upd.Status = &st
	}
	if in.Description != nil {
		d := strings.TrimSpace(*in.Description)
		upd.Description = &d
	}
	if in.Metadata != nil {
		upd.Metadata = in.Metadata
	}

	if err := s.endpoints.Update(ctx, ep.ID, upd); err != nil {
		return nil, err
	}

	return s.endpoints.GetByID(ctx, ep.ID)
}

// RotateSecret generates and persists a new signing secret, returning it
// once. Grace-period handling for the old secret is a policy decision left
// to callers.
func (s *Service) RotateSecret(ctx context.Context, workspaceID int64, id string) (string, error) {
	ep, err := s.get(ctx, workspaceID, id)
	if err != nil {
		return "", err
	}

	secret := util.NewSecret()
	if err := s.endpoints.UpdateSecret(ctx, ep.ID, secret); err != nil {
		return "", err
	}

	return secret, nil
}

// Delete removes the endpoint. Historical delivery and dead-letter rows are
// retained.
func (s *Service) Delete(ctx context.Context, workspaceID int64, id string) error {
	ep, err := s.get(ctx, workspaceID, id)
	if err != nil {
		return err
	}

	return s.endpoints.Delete(ctx, ep.ID)
}

func (s *Service) List(ctx context.Context, workspaceID int64, limit, offset int) ([]model.WebhookEndpoint, error) {
	return s.endpoints.ListByWorkspace(ctx, workspaceID, limit, offset)
}

func (s *Service) Get(ctx context.Context, workspaceID int64, id string) (*model.WebhookEndpoint, error) {
	return s.get(ctx, workspaceID, id)
}

func (s *Service) get(ctx context.Context, workspaceID int64, id string) (*model.WebhookEndpoint, error) {
	ep, err := s.endpoints.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ep == nil || ep.WorkspaceID != workspaceID {
		return nil, ErrNotFound
	}
	return ep, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}

func normalizeEvents(in []string) model.EventTypes {
	seen := make(map[string]struct{}, len(in))
	out := make(model.EventTypes, 0, len(in))
	for _, e := range in {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
