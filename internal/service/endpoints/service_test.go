package endpoints

import (
	"context"
	"testing"
	"time"

	"github.com/hexrift/zentla-sub005/internal/model"
	"github.com/hexrift/zentla-sub005/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEndpointsRepo struct {
	rows    map[string]model.WebhookEndpoint
	updates map[string]repository.EndpointUpdate
	secrets map[string]string
	deleted []string
}

func newFakeEndpointsRepo() *fakeEndpointsRepo {
	return &fakeEndpointsRepo{
		rows:    map[string]model.WebhookEndpoint{},
		updates: map[string]repository.EndpointUpdate{},
		secrets: map[string]string{},
	}
}

func (f *fakeEndpointsRepo) Insert(ctx context.Context, tx *sqlx.Tx, ep *model.WebhookEndpoint) error {
	f.rows[ep.ID] = *ep
	return nil
}

func (f *fakeEndpointsRepo) GetByID(ctx context.Context, id string) (*model.WebhookEndpoint, error) {
	ep, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	return &ep, nil
}

func (f *fakeEndpointsRepo) ListByWorkspace(ctx context.Context, workspaceID int64, limit, offset int) ([]model.WebhookEndpoint, error) {
	var out []model.WebhookEndpoint
	for _, ep := range f.rows {
		if ep.WorkspaceID == workspaceID {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (f *fakeEndpointsRepo) ListActiveSubscribed(ctx context.Context, workspaceID int64, eventType string) ([]model.WebhookEndpoint, error) {
	return nil, nil
}

func (f *fakeEndpointsRepo) Update(ctx context.Context, id string, upd repository.EndpointUpdate) error {
	f.updates[id] = upd
	ep := f.rows[id]
	if upd.URL != nil {
		ep.URL = *upd.URL
	}
	if upd.Events != nil {
		ep.Events = *upd.Events
	}
	if upd.Status != nil {
		ep.Status = *upd.Status
	}
	f.rows[id] = ep
	return nil
}

func (f *fakeEndpointsRepo) UpdateSecret(ctx context.Context, id, secret string) error {
	f.secrets[id] = secret
	ep := f.rows[id]
	ep.Secret = secret
	f.rows[id] = ep
	return nil
}

func (f *fakeEndpointsRepo) Delete(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	delete(f.rows, id)
	return nil
}

func (f *fakeEndpointsRepo) RecordSuccess(ctx context.Context, tx *sqlx.Tx, id string, statusCode int, at time.Time) error {
	return nil
}
func (f *fakeEndpointsRepo) RecordFailure(ctx context.Context, tx *sqlx.Tx, id string, errMsg string, at time.Time) error {
	return nil
}

func TestCreateGeneratesIDAndSecret(t *testing.T) {
	repo := newFakeEndpointsRepo()
	svc := New(repo)

	ep, err := svc.Create(context.Background(), 10, CreateInput{
		URL:    "https://example.com/hooks",
		Events: []string{"Invoice.Paid", "invoice.paid", " subscription.created "},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, ep.ID)
	assert.NotEmpty(t, ep.Secret)
	assert.Equal(t, model.EndpointActive, ep.Status)
	// normalized: lowercased, trimmed, deduplicated
	assert.Equal(t, model.EventTypes{"invoice.paid", "subscription.created"}, ep.Events)
}

func TestCreateRejectsBadInput(t *testing.T) {
	svc := New(newFakeEndpointsRepo())

	_, err := svc.Create(context.Background(), 10, CreateInput{
		URL:    "ftp://example.com",
		Events: []string{"invoice.paid"},
	})
	assert.ErrorIs(t, err, ErrInvalidURL)

	_, err = svc.Create(context.Background(), 10, CreateInput{
		URL:    "not a url",
		Events: []string{"invoice.paid"},
	})
	assert.ErrorIs(t, err, ErrInvalidURL)

	_, err = svc.Create(context.Background(), 10, CreateInput{
		URL:    "https://example.com",
		Events: []string{"", "  "},
	})
	assert.ErrorIs(t, err, ErrNoEvents)
}

func TestUpdateReplacesEventSetWholesale(t *testing.T) {
	repo := newFakeEndpointsRepo()
	svc := New(repo)

	ep, err := svc.Create(context.Background(), 10, CreateInput{
		URL:    "https://example.com/hooks",
		Events: []string{"invoice.paid", "invoice.payment_failed"},
	})
	require.NoError(t, err)

	updated, err := svc.Update(context.Background(), 10, ep.ID, UpdateInput{
		Events: []string{"subscription.created"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.EventTypes{"subscription.created"}, updated.Events)
}

func TestUpdateRejectsForeignWorkspace(t *testing.T) {
	repo := newFakeEndpointsRepo()
	svc := New(repo)

	ep, err := svc.Create(context.Background(), 10, CreateInput{
		URL:    "https://example.com/hooks",
		Events: []string{"invoice.paid"},
	})
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), 99, ep.ID, UpdateInput{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRotateSecretReturnsNewValue(t *testing.T) {
	repo := newFakeEndpointsRepo()
	svc := New(repo)

	ep, err := svc.Create(context.Background(), 10, CreateInput{
		URL:    "https://example.com/hooks",
		Events: []string{"invoice.paid"},
	})
	require.NoError(t, err)

	secret, err := svc.RotateSecret(context.Background(), 10, ep.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, secret)
	assert.NotEqual(t, ep.Secret, secret)
	assert.Equal(t, secret, repo.secrets[ep.ID])
}

func TestDeleteScopedToWorkspace(t *testing.T) {
	repo := newFakeEndpointsRepo()
	svc := New(repo)

	ep, err := svc.Create(context.Background(), 10, CreateInput{
		URL:    "https://example.com/hooks",
		Events: []string{"invoice.paid"},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(context.Background(), 99, ep.ID), ErrNotFound)
	require.NoError(t, svc.Delete(context.Background(), 10, ep.ID))
	assert.Equal(t, []string{ep.ID}, repo.deleted)
}
