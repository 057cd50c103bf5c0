package service

import (
	"context"
	"sync"
	"testing"

	"github.com/shinyyama/rental-backend/internal/db/dbtest"
	"github.com/shinyyama/rental-backend/internal/model"
	"github.com/shinyyama/rental-backend/internal/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fakeStore struct {
	mu   sync.Mutex
	puts map[string][]byte
	err  error
}

func (f *fakeStore) Put(_ context.Context, objectPath, _ string, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[objectPath] = data
	return "https://files.test/" + objectPath, nil
}

type env struct {
	db       *gorm.DB
	store    *fakeStore
	msgRepo  repository.MessageRepository
	messages MessageService
	convs    ConversationService
	react    ReactionService
	users    UserService

	tenant   model.User
	owner    model.User
	stranger model.User
	flat     model.Property
	studio   model.Property
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gdb := dbtest.New(t)
	log := zaptest.NewLogger(t)
	msgRepo := repository.NewMessageRepository(gdb)
	userRepo := repository.NewUserRepository(gdb)
	propertyRepo := repository.NewPropertyRepository(gdb)
	store := &fakeStore{}

	e := &env{
		db:       gdb,
		store:    store,
		msgRepo:  msgRepo,
		messages: NewMessageService(msgRepo, userRepo, propertyRepo, store, log),
		convs:    NewConversationService(msgRepo, userRepo, propertyRepo, log),
		react:    NewReactionService(msgRepo, log),
		users:    NewUserService(userRepo),
	}
	e.tenant = dbtest.User(t, gdb, "tenant")
	e.owner = dbtest.User(t, gdb, "owner")
	e.stranger = dbtest.User(t, gdb, "stranger")
	e.flat = dbtest.Property(t, gdb, e.owner.ID, "Flat")
	e.studio = dbtest.Property(t, gdb, e.owner.ID, "Studio")
	return e
}

func (e *env) sendText(t *testing.T, from, to uint64, propertyID uint64, body string) *model.Message {
	t.Helper()
	msg, err := e.messages.Send(context.Background(), from, SendInput{PropertyID: propertyID, ReceiverID: to, Body: body})
	require.NoError(t, err)
	return msg
}

func fieldErrors(t *testing.T, err error) map[string][]string {
	t.Helper()
	verr, ok := err.(*ValidationError)
	require.True(t, ok, "expected *ValidationError, got %T: %v", err, err)
	return verr.Fields
}
