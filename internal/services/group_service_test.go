package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/internal/database/testutil"
	"github.com/corralhq/corral/internal/models"
	apperrors "github.com/corralhq/corral/pkg/errors"
)

func TestGroupLifecycle(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	groups, err := NewGroupService(db)
	require.NoError(t, err)

	ctx := context.Background()
	creator := userClaims("aaaaaaaa-0000-4000-8000-000000000001")

	group, err := groups.Create(ctx, creator, "platform")
	require.NoError(t, err)
	require.Equal(t, models.DeriveNamedID("platform"), group.ID)

	members, err := groups.Members(ctx, creator, group.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, creator.Subject, members[0].UserID)
	require.True(t, members[0].IsAdmin)

	// The creator is a group admin and can manage membership.
	other := "aaaaaaaa-0000-4000-8000-000000000002"
	require.NoError(t, groups.AddMember(ctx, creator, group.ID, other, false))

	// Plain members cannot.
	memberClaims := userClaims(other)
	err = groups.AddMember(ctx, memberClaims, group.ID, "aaaaaaaa-0000-4000-8000-000000000003", false)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	require.NoError(t, groups.RemoveMember(ctx, creator, group.ID, other))

	members, err = groups.Members(ctx, creator, group.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)

	require.NoError(t, groups.Delete(ctx, creator, group.ID))
	_, err = groups.Get(ctx, creator, group.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGroupAdminFlagUpdateOnReAdd(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	groups, err := NewGroupService(db)
	require.NoError(t, err)

	ctx := context.Background()
	creator := userClaims("bbbbbbbb-0000-4000-8000-000000000001")

	group, err := groups.Create(ctx, creator, "oncall")
	require.NoError(t, err)

	member := "bbbbbbbb-0000-4000-8000-000000000002"
	require.NoError(t, groups.AddMember(ctx, creator, group.ID, member, false))
	require.NoError(t, groups.AddMember(ctx, creator, group.ID, member, true))

	members, err := groups.Members(ctx, creator, group.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)

	for _, m := range members {
		if m.UserID == member {
			require.True(t, m.IsAdmin)
		}
	}
}
