package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/user/kinomerge/internal/model"
	"github.com/user/kinomerge/internal/provider"
)

// Provider is a mock implementation of provider.Provider.
// Source is fixed by ID and not recorded as a call.
type Provider struct {
	mock.Mock
	ID model.Source
}

func (m *Provider) Source() model.Source { return m.ID }

func (m *Provider) GetMovie(ctx context.Context, id int64) (*provider.Movie, error) {
	args := m.Called(ctx, id)
	if movie, ok := args.Get(0).(*provider.Movie); ok {
		return movie, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Provider) SearchMovies(ctx context.Context, query string) ([]provider.MovieRef, error) {
	args := m.Called(ctx, query)
	if refs, ok := args.Get(0).([]provider.MovieRef); ok {
		return refs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Provider) GetPerson(ctx context.Context, id int64) (*provider.Person, error) {
	args := m.Called(ctx, id)
	if person, ok := args.Get(0).(*provider.Person); ok {
		return person, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Provider) SearchPersons(ctx context.Context, query string) ([]provider.PersonRef, error) {
	args := m.Called(ctx, query)
	if refs, ok := args.Get(0).([]provider.PersonRef); ok {
		return refs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Provider) MovieCredits(ctx context.Context, id int64) ([]provider.Credit, error) {
	args := m.Called(ctx, id)
	if credits, ok := args.Get(0).([]provider.Credit); ok {
		return credits, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Provider) PersonCredits(ctx context.Context, id int64) ([]provider.Credit, error) {
	args := m.Called(ctx, id)
	if credits, ok := args.Get(0).([]provider.Credit); ok {
		return credits, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Provider) MovieImages(ctx context.Context, id int64) ([]provider.Image, error) {
	args := m.Called(ctx, id)
	if images, ok := args.Get(0).([]provider.Image); ok {
		return images, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Provider) PersonImages(ctx context.Context, id int64) ([]provider.Image, error) {
	args := m.Called(ctx, id)
	if images, ok := args.Get(0).([]provider.Image); ok {
		return images, args.Error(1)
	}
	return nil, args.Error(1)
}

// Encyclopedia is a mock implementation of provider.Encyclopedia
type Encyclopedia struct {
	mock.Mock
}

func (m *Encyclopedia) Search(ctx context.Context, lang, query string) ([]string, error) {
	args := m.Called(ctx, lang, query)
	if titles, ok := args.Get(0).([]string); ok {
		return titles, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Encyclopedia) GetPage(ctx context.Context, lang, title string) (*provider.Page, error) {
	args := m.Called(ctx, lang, title)
	if page, ok := args.Get(0).(*provider.Page); ok {
		return page, args.Error(1)
	}
	return nil, args.Error(1)
}
