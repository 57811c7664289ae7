package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopBackend struct{}

func (nopBackend) Put(context.Context, string, any, time.Duration) error { return nil }
func (nopBackend) Get(context.Context, string) (any, bool, error)        { return nil, false, nil }
func (nopBackend) Delete(context.Context, string) error                  { return nil }
func (nopBackend) Clear(context.Context) error                           { return nil }
func (nopBackend) Cleanup(context.Context) error                         { return nil }
func (nopBackend) Close() error                                          { return nil }

func TestRegisterAndNew(t *testing.T) {
	kind := Kind("register_test")
	Register(kind, func(ctx context.Context, opts Options) (Backend, error) {
		return nopBackend{}, nil
	})

	b, err := New(context.Background(), kind, nil)
	require.NoError(t, err)
	assert.NotNil(t, b)
}

func TestNewUnknownKind(t *testing.T) {
	_, err := New(context.Background(), Kind("nonexistent"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Contains(t, err.Error(), "nonexistent")
}

func TestRegisterDuplicatePanics(t *testing.T) {
	kind := Kind("duplicate_test")
	factory := func(ctx context.Context, opts Options) (Backend, error) { return nopBackend{}, nil }

	Register(kind, factory)
	assert.Panics(t, func() { Register(kind, factory) })
}

func TestRegisterNilFactoryPanics(t *testing.T) {
	assert.Panics(t, func() { Register(Kind("nil_test"), nil) })
}

func TestNewPropagatesFactoryError(t *testing.T) {
	kind := Kind("failing_test")
	sentinel := errors.New("bad config")
	Register(kind, func(ctx context.Context, opts Options) (Backend, error) {
		return nil, sentinel
	})

	_, err := New(context.Background(), kind, nil)
	assert.ErrorIs(t, err, sentinel)
}

func TestKindsSorted(t *testing.T) {
	Register(Kind("zz_kinds_test"), func(ctx context.Context, opts Options) (Backend, error) { return nopBackend{}, nil })
	Register(Kind("aa_kinds_test"), func(ctx context.Context, opts Options) (Backend, error) { return nopBackend{}, nil })

	kinds := Kinds()
	require.GreaterOrEqual(t, len(kinds), 2)
	for i := 1; i < len(kinds); i++ {
		assert.LessOrEqual(t, kinds[i-1], kinds[i])
	}
	assert.Contains(t, kinds, Kind("aa_kinds_test"))
	assert.Contains(t, kinds, Kind("zz_kinds_test"))
}
