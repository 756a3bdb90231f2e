package catalog

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/malbeclabs/pipelinehub/internal/apierr"
	"github.com/malbeclabs/pipelinehub/internal/auth"
	"github.com/malbeclabs/pipelinehub/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.RegisterUserTask("pickup", func(ctx context.Context, p auth.Principal, conn *pgx.Conn, task *model.PipelineRunTask) (string, error) {
		return "claimed", nil
	})
	r.RegisterSystemTask("analyze_source_tables", func(ctx context.Context, tx pgx.Tx, task *model.PipelineRunTask) error {
		return nil
	})

	class, err := r.ClassOf("pickup")
	require.NoError(t, err)
	assert.Equal(t, model.ClassUser, class)

	class, err = r.ClassOf("analyze_source_tables")
	require.NoError(t, err)
	assert.Equal(t, model.ClassSystem, class)

	entry, err := r.Get("pickup")
	require.NoError(t, err)
	msg, err := entry.UserFunc(context.Background(), auth.Principal{}, nil, &model.PipelineRunTask{})
	require.NoError(t, err)
	assert.Equal(t, "claimed", msg)
}

func TestRegistry_GetUnknownTaskID(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.Get("does_not_exist")
	require.Error(t, err)
	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(err))
}

func TestRegistry_DuplicateRegistrationPanics(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.RegisterUserTask("pickup", func(ctx context.Context, p auth.Principal, conn *pgx.Conn, task *model.PipelineRunTask) (string, error) {
		return "", nil
	})

	assert.Panics(t, func() {
		r.RegisterUserTask("pickup", func(ctx context.Context, p auth.Principal, conn *pgx.Conn, task *model.PipelineRunTask) (string, error) {
			return "", nil
		})
	})
}
