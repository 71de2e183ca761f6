package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	gh "github.com/google/go-github/v73/github"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"github.com/sevigo/ci-script/mocks"
)

func TestDefaultBranch(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("from repository metadata", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		forges := mocks.NewMockClientFactory(ctrl)
		client := mocks.NewMockClient(ctrl)
		forges.EXPECT().ForRepository(gomock.Any(), "org", "service").Return(client, "tok", nil)
		client.EXPECT().GetRepository(gomock.Any(), "org", "service").
			Return(&gh.Repository{DefaultBranch: gh.Ptr("trunk")}, nil)

		assert.Equal(t, "trunk", defaultBranch(context.Background(), forges, "org", "service", log))
	})

	t.Run("no credentials", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		forges := mocks.NewMockClientFactory(ctrl)
		forges.EXPECT().ForRepository(gomock.Any(), "org", "service").Return(nil, "", errors.New("no credentials"))

		assert.Empty(t, defaultBranch(context.Background(), forges, "org", "service", log))
	})

	t.Run("lookup fails", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		forges := mocks.NewMockClientFactory(ctrl)
		client := mocks.NewMockClient(ctrl)
		forges.EXPECT().ForRepository(gomock.Any(), "org", "service").Return(client, "tok", nil)
		client.EXPECT().GetRepository(gomock.Any(), "org", "service").Return(nil, errors.New("404"))

		assert.Empty(t, defaultBranch(context.Background(), forges, "org", "service", log))
	})
}
