package service

import (
	"context"
	"testing"

	"github.com/shinyyama/rental-backend/internal/convid"
	"github.com/shinyyama/rental-backend/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestConversationListRanksByLastActivity(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.sendText(t, e.tenant.ID, e.owner.ID, e.flat.ID, "flat?")
	e.sendText(t, e.stranger.ID, e.owner.ID, e.studio.ID, "studio?")
	e.sendText(t, e.owner.ID, e.tenant.ID, e.flat.ID, "flat!")
	e.sendText(t, e.tenant.ID, e.owner.ID, e.studio.ID, "studio too?")

	inbox := e.convs.List(ctx, e.owner.ID)
	require.Len(t, inbox, 3)

	assert.Equal(t, convid.Derive(e.studio.ID, e.tenant.ID, e.owner.ID), inbox[0].ConversationID)
	assert.Equal(t, "studio too?", inbox[0].LastMessage.Body)
	assert.EqualValues(t, 1, inbox[0].UnreadCount)

	assert.Equal(t, convid.Derive(e.flat.ID, e.owner.ID, e.tenant.ID), inbox[1].ConversationID)
	assert.Equal(t, "flat!", inbox[1].LastMessage.Body, "replies count toward the same pair")
	assert.EqualValues(t, 1, inbox[1].UnreadCount)
	require.NotNil(t, inbox[1].OtherUser)
	assert.Equal(t, "tenant", inbox[1].OtherUser.Name)
	require.NotNil(t, inbox[1].Property)
	assert.Equal(t, "Flat", inbox[1].Property.Title)

	assert.Equal(t, convid.Derive(e.studio.ID, e.stranger.ID, e.owner.ID), inbox[2].ConversationID)
	assert.Equal(t, "stranger", inbox[2].OtherUser.Name)

	for i := 1; i < len(inbox); i++ {
		assert.False(t, inbox[i].LastActivity.After(inbox[i-1].LastActivity))
	}
}

func TestConversationListEmpty(t *testing.T) {
	e := newEnv(t)
	inbox := e.convs.List(context.Background(), e.tenant.ID)
	assert.NotNil(t, inbox)
	assert.Empty(t, inbox)
}

func TestConversationListSwallowsErrors(t *testing.T) {
	e := newEnv(t)
	e.sendText(t, e.tenant.ID, e.owner.ID, e.flat.ID, "hello")

	broken := repository.NewMessageRepository(nil)
	svc := NewConversationService(broken, repository.NewUserRepository(e.db), repository.NewPropertyRepository(e.db), zaptest.NewLogger(t))

	inbox := svc.List(context.Background(), e.owner.ID)
	assert.NotNil(t, inbox)
	assert.Empty(t, inbox)
}

func TestConversationVanishesWhenAllMessagesDeleted(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	msg := e.sendText(t, e.tenant.ID, e.owner.ID, e.flat.ID, "oops")

	_, err := e.messages.Delete(ctx, msg.ID, e.tenant.ID)
	require.NoError(t, err)
	assert.Empty(t, e.convs.List(ctx, e.owner.ID))
	assert.Empty(t, e.convs.List(ctx, e.tenant.ID))
}

func TestStartConversation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	want := convid.Derive(e.flat.ID, e.tenant.ID, e.owner.ID)

	id, err := e.convs.Start(ctx, e.tenant.ID, StartInput{PropertyID: e.flat.ID, ReceiverID: e.owner.ID})
	require.NoError(t, err)
	assert.Equal(t, want, id)

	again, err := e.convs.Start(ctx, e.owner.ID, StartInput{PropertyID: e.flat.ID, ReceiverID: e.tenant.ID})
	require.NoError(t, err)
	assert.Equal(t, want, again)

	msgs, err := e.messages.List(ctx, id, e.owner.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "starting twice writes one seed message")
	assert.Equal(t, StarterBody, msgs[0].Body)
	assert.Equal(t, e.tenant.ID, msgs[0].SenderID)
}

func TestStartConversationErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.convs.Start(ctx, e.tenant.ID, StartInput{PropertyID: e.flat.ID, ReceiverID: e.tenant.ID})
	assert.ErrorIs(t, err, ErrInvalidRecipient)

	_, err = e.convs.Start(ctx, e.tenant.ID, StartInput{PropertyID: 999, ReceiverID: e.owner.ID})
	assert.Contains(t, fieldErrors(t, err), "property_id")

	_, err = e.convs.Start(ctx, e.tenant.ID, StartInput{PropertyID: e.flat.ID})
	assert.Contains(t, fieldErrors(t, err), "receiver_id")
}
