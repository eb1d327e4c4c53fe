package appointments

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockDynamo struct {
	transactInputs []*dynamodb.TransactWriteItemsInput
	updateInputs   []*dynamodb.UpdateItemInput
	queryInputs    []*dynamodb.QueryInput

	transactErr error
	updateErr   error
	queryPages  []*dynamodb.QueryOutput
	queryErr    error
}

func (m *mockDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	m.transactInputs = append(m.transactInputs, in)
	if m.transactErr != nil {
		return nil, m.transactErr
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (m *mockDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.updateInputs = append(m.updateInputs, in)
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	// copy so later pagination mutations do not rewrite history
	cp := *in
	m.queryInputs = append(m.queryInputs, &cp)
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	if len(m.queryPages) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	page := m.queryPages[0]
	m.queryPages = m.queryPages[1:]
	return page, nil
}

func sampleAppointment() *Appointment {
	scheduled := time.Date(2026, 10, 19, 9, 5, 0, 0, time.UTC)
	cut, noShow := Derive(scheduled)
	return &Appointment{
		ID:           "appt-1",
		DoctorID:     "doc-1",
		ClinicID:     "clinic-1",
		Date:         "19 October 2026",
		Time:         "09:05 AM",
		ScheduledAt:  scheduled,
		SessionIndex: 0,
		SlotIndex:    1,
		TokenNumber:  "W2",
		NumericToken: 2,
		WalkIn:       true,
		Status:       StatusPending,
		CutOffTime:   cut,
		NoShowTime:   noShow,
	}
}

func TestDynamoStore_CreateClaimsSlotAtomically(t *testing.T) {
	mock := &mockDynamo{}
	store := NewDynamoStore(mock, "appointments", nil)

	require.NoError(t, store.Create(context.Background(), sampleAppointment()))
	require.Len(t, mock.transactInputs, 1)

	items := mock.transactInputs[0].TransactItems
	require.Len(t, items, 2)

	var stored appointmentItem
	require.NoError(t, attributevalue.UnmarshalMap(items[0].Put.Item, &stored))
	assert.Equal(t, "DOC#doc-1#19 October 2026", stored.PK)
	assert.Equal(t, "APPT#appt-1", stored.SK)
	assert.Equal(t, "W2", stored.TokenNumber)
	assert.Equal(t, "attribute_not_exists(pk)", aws.ToString(items[0].Put.ConditionExpression))

	var claim slotClaimItem
	require.NoError(t, attributevalue.UnmarshalMap(items[1].Put.Item, &claim))
	assert.Equal(t, "SLOT#0#1", claim.SK)
	assert.Equal(t, "appt-1", claim.ClaimedBy)
	assert.Equal(t, "attribute_not_exists(pk)", aws.ToString(items[1].Put.ConditionExpression))
}

func TestDynamoStore_CreateMapsCancellationReasons(t *testing.T) {
	tests := []struct {
		name    string
		reasons []types.CancellationReason
		want    error
	}{
		{
			name:    "slot claimed",
			reasons: []types.CancellationReason{{Code: aws.String("None")}, {Code: aws.String("ConditionalCheckFailed")}},
			want:    ErrSlotTaken,
		},
		{
			name:    "duplicate id",
			reasons: []types.CancellationReason{{Code: aws.String("ConditionalCheckFailed")}, {Code: aws.String("None")}},
			want:    ErrConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockDynamo{transactErr: &types.TransactionCanceledException{CancellationReasons: tt.reasons}}
			err := NewDynamoStore(mock, "appointments", nil).Create(context.Background(), sampleAppointment())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDynamoStore_ListForDoctorDayPaginates(t *testing.T) {
	a := sampleAppointment()
	b := sampleAppointment()
	b.ID = "appt-2"
	b.SlotIndex = 2

	itemA, err := attributevalue.MarshalMap(appointmentItem{PK: "p", SK: "APPT#appt-1", Appointment: *a})
	require.NoError(t, err)
	itemB, err := attributevalue.MarshalMap(appointmentItem{PK: "p", SK: "APPT#appt-2", Appointment: *b})
	require.NoError(t, err)

	mock := &mockDynamo{queryPages: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{itemA}, LastEvaluatedKey: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: "p"},
			"sk": &types.AttributeValueMemberS{Value: "APPT#appt-1"},
		}},
		{Items: []map[string]types.AttributeValue{itemB}},
	}}

	list, err := NewDynamoStore(mock, "appointments", nil).ListForDoctorDay(context.Background(), "doc-1", "19 October 2026")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "appt-2", list[1].ID)
	assert.True(t, list[0].ScheduledAt.Equal(a.ScheduledAt))

	require.Len(t, mock.queryInputs, 2)
	pk := mock.queryInputs[0].ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	assert.Equal(t, "DOC#doc-1#19 October 2026", pk)
	assert.NotNil(t, mock.queryInputs[1].ExclusiveStartKey)
}

func TestDynamoStore_GetUsesIndex(t *testing.T) {
	item, err := attributevalue.MarshalMap(appointmentItem{PK: "p", SK: "APPT#appt-1", Appointment: *sampleAppointment()})
	require.NoError(t, err)
	mock := &mockDynamo{queryPages: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{item}}}}
	store := NewDynamoStore(mock, "appointments", nil)

	got, err := store.Get(context.Background(), "appt-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", got.DoctorID)
	assert.Equal(t, AppointmentIDIndex, aws.ToString(mock.queryInputs[0].IndexName))

	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDynamoStore_CompareAndSwapConditionalUpdate(t *testing.T) {
	mock := &mockDynamo{}
	store := NewDynamoStore(mock, "appointments", nil)

	next := sampleAppointment()
	next.Status = StatusConfirmed
	started := next.ScheduledAt
	next.ConsultationStartedAt = &started

	require.NoError(t, store.CompareAndSwap(context.Background(), next, StatusPending))
	require.Len(t, mock.updateInputs, 1)

	in := mock.updateInputs[0]
	assert.Equal(t, "attribute_exists(pk) AND #status = :expected", aws.ToString(in.ConditionExpression))
	assert.Equal(t, "status", in.ExpressionAttributeNames["#status"])
	assert.Equal(t, "Pending", in.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "Confirmed", in.ExpressionAttributeValues[":status"].(*types.AttributeValueMemberS).Value)
	expr := aws.ToString(in.UpdateExpression)
	assert.Contains(t, expr, "consultation_started_at = :started")
	assert.True(t, strings.HasSuffix(expr, "REMOVE requeued_for"), expr)
}

func TestDynamoStore_CompareAndSwapLostRace(t *testing.T) {
	mock := &mockDynamo{updateErr: &types.ConditionalCheckFailedException{Message: aws.String("nope")}}
	next := sampleAppointment()
	next.Status = StatusSkipped

	err := NewDynamoStore(mock, "appointments", nil).CompareAndSwap(context.Background(), next, StatusPending)
	assert.ErrorIs(t, err, ErrConflict)

	mock.updateErr = errors.New("throttled")
	err = NewDynamoStore(mock, "appointments", nil).CompareAndSwap(context.Background(), next, StatusPending)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrConflict)
}

func TestDynamoStore_CancelReleasesSlotClaim(t *testing.T) {
	mock := &mockDynamo{}
	next := sampleAppointment()
	next.Status = StatusCancelled

	require.NoError(t, NewDynamoStore(mock, "appointments", nil).CompareAndSwap(context.Background(), next, StatusPending))
	require.Empty(t, mock.updateInputs)
	require.Len(t, mock.transactInputs, 1)

	items := mock.transactInputs[0].TransactItems
	require.Len(t, items, 2)
	require.NotNil(t, items[0].Update)
	require.NotNil(t, items[1].Delete)
	assert.Equal(t, "SLOT#0#1", items[1].Delete.Key["sk"].(*types.AttributeValueMemberS).Value)

	mock.transactErr = &types.TransactionCanceledException{}
	err := NewDynamoStore(mock, "appointments", nil).CompareAndSwap(context.Background(), next, StatusPending)
	assert.ErrorIs(t, err, ErrConflict)
}
