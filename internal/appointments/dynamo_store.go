package appointments

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/wolfman30/frontdesk-queue/pkg/logging"
)

// AppointmentIDIndex is the GSI keyed on appointment_id. Slot claim items
// carry no appointment_id, so the index only holds appointments.
const AppointmentIDIndex = "appointment_id-index"

type dynamoAPI interface {
	TransactWriteItems(context.Context, *dynamodb.TransactWriteItemsInput, ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// appointmentItem is the stored shape: one partition per doctor day, with
// appointments under APPT# and slot claims under SLOT#.
type appointmentItem struct {
	PK string `dynamodbav:"pk"`
	SK string `dynamodbav:"sk"`
	Appointment
}

type slotClaimItem struct {
	PK        string `dynamodbav:"pk"`
	SK        string `dynamodbav:"sk"`
	ClaimedBy string `dynamodbav:"claimed_by"`
}

func partitionKey(doctorID, date string) string {
	return "DOC#" + doctorID + "#" + date
}

func appointmentSortKey(id string) string {
	return "APPT#" + id
}

func slotSortKey(session, slot int) string {
	return "SLOT#" + strconv.Itoa(session) + "#" + strconv.Itoa(slot)
}

// DynamoStore keeps appointments in a single DynamoDB table.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore builds a store backed by the provided DynamoDB client.
func NewDynamoStore(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoStore {
	if client == nil {
		panic("appointments: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("appointments: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoStore{client: client, tableName: tableName, logger: logger}
}

func (s *DynamoStore) ListForDoctorDay(ctx context.Context, doctorID, date string) ([]Appointment, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: partitionKey(doctorID, date)},
			":prefix": &types.AttributeValueMemberS{Value: "APPT#"},
		},
		ConsistentRead: aws.Bool(true),
	}

	var out []Appointment
	for {
		page, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("appointments: query doctor day: %w", err)
		}
		for _, raw := range page.Items {
			var item appointmentItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("appointments: decode appointment: %w", err)
			}
			out = append(out, item.Appointment)
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}
	return out, nil
}

func (s *DynamoStore) Get(ctx context.Context, id string) (*Appointment, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	page, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(AppointmentIDIndex),
		KeyConditionExpression: aws.String("appointment_id = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: id},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("appointments: get %s: %w", id, err)
	}
	if len(page.Items) == 0 {
		return nil, ErrNotFound
	}
	var item appointmentItem
	if err := attributevalue.UnmarshalMap(page.Items[0], &item); err != nil {
		return nil, fmt.Errorf("appointments: decode appointment: %w", err)
	}
	return &item.Appointment, nil
}

func (s *DynamoStore) Create(ctx context.Context, a *Appointment) error {
	if a == nil {
		return errors.New("appointments: appointment cannot be nil")
	}
	pk := partitionKey(a.DoctorID, a.Date)
	apptItem, err := attributevalue.MarshalMap(appointmentItem{PK: pk, SK: appointmentSortKey(a.ID), Appointment: *a})
	if err != nil {
		return fmt.Errorf("appointments: marshal appointment: %w", err)
	}
	claimItem, err := attributevalue.MarshalMap(slotClaimItem{PK: pk, SK: slotSortKey(a.SessionIndex, a.SlotIndex), ClaimedBy: a.ID})
	if err != nil {
		return fmt.Errorf("appointments: marshal slot claim: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(s.tableName),
				Item:                apptItem,
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(s.tableName),
				Item:                claimItem,
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			}},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			reasons := tce.CancellationReasons
			if len(reasons) > 1 && aws.ToString(reasons[1].Code) == "ConditionalCheckFailed" {
				return fmt.Errorf("appointments: create %s: %w", a.Slot(), ErrSlotTaken)
			}
			if len(reasons) > 0 && aws.ToString(reasons[0].Code) == "ConditionalCheckFailed" {
				return fmt.Errorf("appointments: create %s: %w", a.ID, ErrConflict)
			}
		}
		return fmt.Errorf("appointments: create %s: %w", a.ID, err)
	}
	return nil
}

func (s *DynamoStore) CompareAndSwap(ctx context.Context, next *Appointment, expected Status) error {
	if next == nil {
		return errors.New("appointments: appointment cannot be nil")
	}
	expr, names, values, err := mutableUpdate(next)
	if err != nil {
		return err
	}
	values[":expected"] = &types.AttributeValueMemberS{Value: string(expected)}
	key := map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: partitionKey(next.DoctorID, next.Date)},
		"sk": &types.AttributeValueMemberS{Value: appointmentSortKey(next.ID)},
	}
	condition := aws.String("attribute_exists(pk) AND #status = :expected")

	if next.Status != StatusCancelled {
		_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(s.tableName),
			Key:                       key,
			UpdateExpression:          aws.String(expr),
			ConditionExpression:       condition,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		})
		if err != nil {
			var ccf *types.ConditionalCheckFailedException
			if errors.As(err, &ccf) {
				return fmt.Errorf("appointments: %s %s->%s: %w", next.ID, expected, next.Status, ErrConflict)
			}
			return fmt.Errorf("appointments: update %s: %w", next.ID, err)
		}
		return nil
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: &types.Update{
				TableName:                 aws.String(s.tableName),
				Key:                       key,
				UpdateExpression:          aws.String(expr),
				ConditionExpression:       condition,
				ExpressionAttributeNames:  names,
				ExpressionAttributeValues: values,
			}},
			{Delete: &types.Delete{
				TableName: aws.String(s.tableName),
				Key: map[string]types.AttributeValue{
					"pk": &types.AttributeValueMemberS{Value: partitionKey(next.DoctorID, next.Date)},
					"sk": &types.AttributeValueMemberS{Value: slotSortKey(next.SessionIndex, next.SlotIndex)},
				},
				ConditionExpression: aws.String("attribute_not_exists(pk) OR claimed_by = :id"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":id": &types.AttributeValueMemberS{Value: next.ID},
				},
			}},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return fmt.Errorf("appointments: cancel %s: %w", next.ID, ErrConflict)
		}
		return fmt.Errorf("appointments: cancel %s: %w", next.ID, err)
	}
	return nil
}

// mutableUpdate builds the SET/REMOVE expression for the fields a status
// change may touch.
func mutableUpdate(a *Appointment) (string, map[string]string, map[string]types.AttributeValue, error) {
	names := map[string]string{"#status": "status"}
	values := map[string]types.AttributeValue{
		":status": &types.AttributeValueMemberS{Value: string(a.Status)},
		":delay":  &types.AttributeValueMemberN{Value: strconv.Itoa(a.DoctorDelayMinutes)},
	}
	updated, err := attributevalue.Marshal(a.UpdatedAt)
	if err != nil {
		return "", nil, nil, fmt.Errorf("appointments: marshal updated_at: %w", err)
	}
	values[":updated"] = updated

	set := "SET #status = :status, doctor_delay_minutes = :delay, updated_at = :updated"
	var remove []string

	if a.RequeuedFor != nil {
		v, err := attributevalue.Marshal(*a.RequeuedFor)
		if err != nil {
			return "", nil, nil, fmt.Errorf("appointments: marshal requeued_for: %w", err)
		}
		values[":requeued"] = v
		set += ", requeued_for = :requeued"
	} else {
		remove = append(remove, "requeued_for")
	}
	if a.ConsultationStartedAt != nil {
		v, err := attributevalue.Marshal(*a.ConsultationStartedAt)
		if err != nil {
			return "", nil, nil, fmt.Errorf("appointments: marshal consultation_started_at: %w", err)
		}
		values[":started"] = v
		set += ", consultation_started_at = :started"
	} else {
		remove = append(remove, "consultation_started_at")
	}

	expr := set
	if len(remove) > 0 {
		expr += " REMOVE "
		for i, attr := range remove {
			if i > 0 {
				expr += ", "
			}
			expr += attr
		}
	}
	return expr, names, values, nil
}
