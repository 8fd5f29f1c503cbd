package store

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportchat/pkg/types"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func msgAt(id string, offset time.Duration, senderType, senderID string) types.ChatMessage {
	return types.ChatMessage{
		ID:         id,
		SessionID:  "sess-1",
		SenderID:   senderID,
		SenderType: senderType,
		Body:       "body " + id,
		CreatedAt:  base.Add(offset),
		Status:     types.StatusSent,
	}
}

func ids(messages []types.ChatMessage) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.ID
	}
	return out
}

func newStore() *Store {
	return New(zerolog.Nop())
}

func TestStore_UpsertSortsByTimestampThenID(t *testing.T) {
	s := newStore()
	s.Upsert([]types.ChatMessage{
		msgAt("c", 2*time.Second, types.SenderAgent, "a1"),
		msgAt("b", time.Second, types.SenderCustomer, ""),
		msgAt("a", 2*time.Second, types.SenderAgent, "a1"),
		msgAt("z", 0, types.SenderBot, ""),
	})

	assert.Equal(t, []string{"z", "b", "a", "c"}, ids(s.Messages()))
}

func TestStore_UpsertIsIdempotent(t *testing.T) {
	s := newStore()
	m := msgAt("m1", 0, types.SenderAgent, "a1")

	changed := s.Upsert([]types.ChatMessage{m})
	require.Len(t, changed, 1)
	before := s.Messages()

	changed = s.Upsert([]types.ChatMessage{m})
	assert.Empty(t, changed, "identical re-upsert changes nothing")
	assert.Equal(t, before, s.Messages())
	assert.Equal(t, 1, s.Len())
}

func TestStore_UpsertEmptyInputIsNoop(t *testing.T) {
	s := newStore()
	assert.Nil(t, s.Upsert(nil))
	assert.Nil(t, s.Upsert([]types.ChatMessage{}))
	assert.Equal(t, 0, s.Len())
}

func TestStore_UpsertReplacesByID(t *testing.T) {
	s := newStore()
	s.Upsert([]types.ChatMessage{
		msgAt("m1", 0, types.SenderCustomer, ""),
		msgAt("m2", time.Second, types.SenderAgent, "a1"),
	})

	edited := msgAt("m1", 5*time.Second, types.SenderCustomer, "")
	edited.Body = "edited"
	changed := s.Upsert([]types.ChatMessage{edited})

	require.Len(t, changed, 1)
	assert.Equal(t, 2, s.Len(), "replacement does not duplicate")
	assert.Equal(t, []string{"m2", "m1"}, ids(s.Messages()), "replacement moves to its new position")

	got, ok := s.Get("m1")
	require.True(t, ok)
	assert.Equal(t, "edited", got.Body)
}

func TestStore_UpsertSkipsMalformedEntries(t *testing.T) {
	s := newStore()
	bad := msgAt("", 0, types.SenderAgent, "a1")
	noTime := msgAt("no-time", 0, types.SenderAgent, "a1")
	noTime.CreatedAt = time.Time{}

	changed := s.Upsert([]types.ChatMessage{
		bad,
		msgAt("ok-1", 0, types.SenderAgent, "a1"),
		noTime,
		msgAt("ok-2", time.Second, types.SenderAgent, "a1"),
	})

	assert.Equal(t, []string{"ok-1", "ok-2"}, ids(changed))
	assert.Equal(t, 2, s.Len())
}

func TestStore_UpsertDefaultsEmptyStatusToSent(t *testing.T) {
	s := newStore()
	m := msgAt("m1", 0, types.SenderAgent, "a1")
	m.Status = ""
	s.Upsert([]types.ChatMessage{m})

	got, _ := s.Get("m1")
	assert.Equal(t, types.StatusSent, got.Status)

	m.Status = types.StatusSent
	assert.Empty(t, s.Upsert([]types.ChatMessage{m}), "normalized status compares equal")
}

func TestStore_LatestMessageIgnoresInsertionOrder(t *testing.T) {
	messages := make([]types.ChatMessage, 20)
	for i := range messages {
		messages[i] = msgAt(fmt.Sprintf("m%02d", i), time.Duration(i)*time.Second, types.SenderAgent, "a1")
	}

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 10; round++ {
		rng.Shuffle(len(messages), func(i, j int) { messages[i], messages[j] = messages[j], messages[i] })

		s := newStore()
		for _, m := range messages {
			s.Upsert([]types.ChatMessage{m})
		}

		latest, ok := s.LatestMessage()
		require.True(t, ok)
		assert.Equal(t, "m19", latest.ID)

		oldest, ok := s.Oldest()
		require.True(t, ok)
		assert.Equal(t, "m00", oldest.ID)
	}
}

func TestStore_LatestMessageEmpty(t *testing.T) {
	_, ok := newStore().LatestMessage()
	assert.False(t, ok)
	_, ok = newStore().Oldest()
	assert.False(t, ok)
}

func TestStore_UnreadCountAfterDate(t *testing.T) {
	s := newStore()
	s.Upsert([]types.ChatMessage{
		msgAt("t1", 0, types.SenderAgent, "a1"),
		msgAt("t2", time.Second, types.SenderAgent, "a1"),
		msgAt("t3", 2*time.Second, types.SenderAgent, "a1"),
	})

	assert.Equal(t, 2, s.UnreadCountAfterDate(base))
	assert.Equal(t, 3, s.UnreadCountAfterDate(base.Add(-time.Nanosecond)))
	assert.Equal(t, 0, s.UnreadCountAfterDate(base.Add(2*time.Second)))
	assert.Equal(t, 0, newStore().UnreadCountAfterDate(base))
}

func TestStore_SenderDerivedQueries(t *testing.T) {
	s := newStore()
	assert.False(t, s.IsAnyMessageByCurrentUser())
	assert.Equal(t, "", s.FirstOtherUserID())
	assert.Empty(t, s.OtherUserIDs())

	s.Upsert([]types.ChatMessage{
		msgAt("1", 0, types.SenderBot, ""),
		msgAt("2", time.Second, types.SenderAgent, "agent_b"),
		msgAt("3", 2*time.Second, types.SenderCustomer, "cust_1"),
		msgAt("4", 3*time.Second, types.SenderAgent, "agent_a"),
		msgAt("5", 4*time.Second, types.SenderAgent, "agent_b"),
	})

	assert.True(t, s.IsAnyMessageByCurrentUser())
	assert.True(t, s.DidAgentReply())
	assert.Equal(t, []string{"agent_b", "agent_a"}, s.OtherUserIDs())
	assert.Equal(t, "agent_b", s.FirstOtherUserID())
}

func TestStore_DidAgentReplyIgnoresBots(t *testing.T) {
	s := newStore()
	s.Upsert([]types.ChatMessage{msgAt("1", 0, types.SenderBot, "bot_1")})
	assert.False(t, s.DidAgentReply())
}

func TestStore_RemoveAndSetStatus(t *testing.T) {
	s := newStore()
	s.Upsert([]types.ChatMessage{
		msgAt("a", 0, types.SenderCustomer, ""),
		msgAt("b", 0, types.SenderCustomer, ""),
		msgAt("c", 0, types.SenderCustomer, ""),
	})

	updated, ok := s.SetStatus("b", types.StatusFailed)
	require.True(t, ok)
	assert.Equal(t, types.StatusFailed, updated.Status)

	_, ok = s.SetStatus("missing", types.StatusFailed)
	assert.False(t, ok)

	assert.True(t, s.Remove("b"))
	assert.False(t, s.Remove("b"))
	assert.Equal(t, []string{"a", "c"}, ids(s.Messages()))
}

func TestStore_LatestQuestion(t *testing.T) {
	s := newStore()
	q, _ := s.LatestQuestion(types.QuestionSlotIntake)
	assert.Nil(t, q)

	ask := msgAt("ask", 0, types.SenderBot, "")
	ask.Question = &types.FormQuestion{ID: "q-email", Type: types.QuestionTypeEmail, Slot: types.QuestionSlotIntake}
	s.Upsert([]types.ChatMessage{ask})

	q, answered := s.LatestQuestion(types.QuestionSlotIntake)
	require.NotNil(t, q)
	assert.Equal(t, "q-email", q.ID)
	assert.False(t, answered)

	vc, _ := s.LatestQuestion(types.QuestionSlotVolumeControl)
	assert.Nil(t, vc, "slots are independent")

	answer := msgAt("answer", time.Second, types.SenderCustomer, "")
	answer.AnswersQuestionID = "q-email"
	s.Upsert([]types.ChatMessage{answer})

	q, answered = s.LatestQuestion(types.QuestionSlotIntake)
	require.NotNil(t, q)
	assert.True(t, answered)
}

func TestStore_CopiesAttachmentsAndQuestions(t *testing.T) {
	s := newStore()
	in := msgAt("m1", 0, types.SenderBot, "bot")
	in.Attachments = []types.Attachment{{Name: "a.png", ContentType: "image/png", Data: []byte{1, 2, 3}}}
	in.Question = &types.FormQuestion{ID: "q1", Type: types.QuestionTypeOption, Options: []string{"yes", "no"}, Slot: types.QuestionSlotIntake}
	s.Upsert([]types.ChatMessage{in})

	in.Attachments[0].Data[0] = 9
	in.Attachments[0].Name = "changed"
	in.Question.Options[0] = "changed"

	got, ok := s.Get("m1")
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, got.Attachments[0].Data)
	assert.Equal(t, "a.png", got.Attachments[0].Name)
	assert.Equal(t, []string{"yes", "no"}, got.Question.Options)

	got.Attachments[0].Data[1] = 9
	listed := s.Messages()
	listed[0].Attachments[0].Data[2] = 9
	listed[0].Question.Options[1] = "changed"

	again, _ := s.Get("m1")
	assert.Equal(t, []byte{1, 2, 3}, again.Attachments[0].Data)
	assert.Equal(t, []string{"yes", "no"}, again.Question.Options)

	q, answered := s.LatestQuestion(types.QuestionSlotIntake)
	require.NotNil(t, q)
	assert.False(t, answered)
	q.Options[0] = "changed"
	again, _ = s.Get("m1")
	assert.Equal(t, "yes", again.Question.Options[0])
}
