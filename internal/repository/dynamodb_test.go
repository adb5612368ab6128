package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/svirmi/lifejar-payments/internal/model"
)

type mockDynamo struct {
	PutItemFunc     func(ctx context.Context, in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error)
	GetItemFunc     func(ctx context.Context, in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	UpdateItemFunc  func(ctx context.Context, in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error)
	DeleteItemFunc  func(ctx context.Context, in *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error)
	QueryFunc       func(ctx context.Context, in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error)
	CreateTableFunc func(ctx context.Context, in *dynamodb.CreateTableInput) (*dynamodb.CreateTableOutput, error)
}

func (m *mockDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if m.PutItemFunc != nil {
		return m.PutItemFunc(ctx, in)
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.GetItemFunc != nil {
		return m.GetItemFunc(ctx, in)
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if m.UpdateItemFunc != nil {
		return m.UpdateItemFunc(ctx, in)
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if m.DeleteItemFunc != nil {
		return m.DeleteItemFunc(ctx, in)
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

func (m *mockDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, in)
	}
	return &dynamodb.QueryOutput{}, nil
}

func (m *mockDynamo) CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	if m.CreateTableFunc != nil {
		return m.CreateTableFunc(ctx, in)
	}
	return &dynamodb.CreateTableOutput{}, nil
}

var testTables = DynamoTables{Jars: "jars", Contributions: "contributions", PendingPayments: "payments"}

func TestDynamoIncrementIsConditionalAdd(t *testing.T) {
	var got *dynamodb.UpdateItemInput
	store := NewDynamoStore(&mockDynamo{
		UpdateItemFunc: func(_ context.Context, in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			got = in
			return &dynamodb.UpdateItemOutput{}, nil
		},
	}, testTables)

	if err := store.IncrementJarAmount(context.Background(), "j1", decimal.RequireFromString("12.50")); err != nil {
		t.Fatal(err)
	}
	if aws.ToString(got.UpdateExpression) != "ADD current_amount :amount SET updated_at = :now" {
		t.Errorf("update expression = %q", aws.ToString(got.UpdateExpression))
	}
	if aws.ToString(got.ConditionExpression) != "attribute_exists(id)" {
		t.Errorf("condition = %q", aws.ToString(got.ConditionExpression))
	}
	n, ok := got.ExpressionAttributeValues[":amount"].(*dynamodbtypes.AttributeValueMemberN)
	if !ok || n.Value != "12.5" {
		t.Errorf(":amount = %#v", got.ExpressionAttributeValues[":amount"])
	}
}

func TestDynamoIncrementMissingJar(t *testing.T) {
	store := NewDynamoStore(&mockDynamo{
		UpdateItemFunc: func(context.Context, *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return nil, &dynamodbtypes.ConditionalCheckFailedException{Message: aws.String("failed")}
		},
	}, testTables)

	err := store.IncrementJarAmount(context.Background(), "gone", decimal.NewFromInt(1))
	if !errors.Is(err, ErrJarNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestDynamoInsertContributionDuplicate(t *testing.T) {
	var cond string
	store := NewDynamoStore(&mockDynamo{
		PutItemFunc: func(_ context.Context, in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			cond = aws.ToString(in.ConditionExpression)
			if _, ok := in.Item["amount"].(*dynamodbtypes.AttributeValueMemberN); !ok {
				t.Errorf("amount stored as %T, want N", in.Item["amount"])
			}
			return nil, &dynamodbtypes.ConditionalCheckFailedException{}
		},
	}, testTables)

	err := store.InsertContribution(context.Background(), &model.Contribution{
		ID: "c1", JarID: "j1", Reference: "jar_j1_1", Amount: decimal.NewFromInt(5), Status: model.ContributionConfirmed,
	})
	if !errors.Is(err, ErrDuplicateContribution) {
		t.Fatalf("err = %v", err)
	}
	if cond != "attribute_not_exists(reference)" {
		t.Errorf("condition = %q", cond)
	}
}

func TestDynamoGetJarRoundTrip(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	item, err := attributevalue.MarshalMap(jarItem{
		ID:            "j1",
		OwnerID:       "o",
		Title:         "Trip",
		TargetAmount:  dynamoNumber{decimal.NewFromInt(1000)},
		CurrentAmount: dynamoNumber{decimal.RequireFromString("250.75")},
		Currency:      "KES",
		IsActive:      true,
		CreatedAt:     created,
		UpdatedAt:     created,
	})
	if err != nil {
		t.Fatal(err)
	}
	store := NewDynamoStore(&mockDynamo{
		GetItemFunc: func(context.Context, *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: item}, nil
		},
	}, testTables)

	j, err := store.GetJar(context.Background(), "j1")
	if err != nil {
		t.Fatal(err)
	}
	if !j.CurrentAmount.Equal(decimal.RequireFromString("250.75")) || !j.CreatedAt.Equal(created) || !j.IsActive {
		t.Errorf("got %+v", j)
	}
}

func TestDynamoGetJarMissing(t *testing.T) {
	store := NewDynamoStore(&mockDynamo{}, testTables)
	if _, err := store.GetJar(context.Background(), "x"); !errors.Is(err, ErrJarNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestDynamoListContributionsPaginates(t *testing.T) {
	page := func(ref string) map[string]dynamodbtypes.AttributeValue {
		m, _ := attributevalue.MarshalMap(contributionItem{
			Reference: ref, ID: ref, JarID: "j1", Amount: dynamoNumber{decimal.NewFromInt(1)}, Status: "confirmed",
		})
		return m
	}
	calls := 0
	store := NewDynamoStore(&mockDynamo{
		QueryFunc: func(_ context.Context, in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			calls++
			if aws.ToString(in.IndexName) != contributionsByJarIndex {
				t.Errorf("index = %q", aws.ToString(in.IndexName))
			}
			if calls == 1 {
				return &dynamodb.QueryOutput{Items: []map[string]dynamodbtypes.AttributeValue{page("a")}, LastEvaluatedKey: page("a")}, nil
			}
			return &dynamodb.QueryOutput{Items: []map[string]dynamodbtypes.AttributeValue{page("b")}}, nil
		},
	}, testTables)

	got, err := store.ListContributions(context.Background(), "j1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || calls != 2 {
		t.Fatalf("got %d contributions over %d calls", len(got), calls)
	}
}

func TestDynamoUpdatePendingPaymentStatus(t *testing.T) {
	var in *dynamodb.UpdateItemInput
	store := NewDynamoStore(&mockDynamo{
		UpdateItemFunc: func(_ context.Context, i *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			in = i
			return &dynamodb.UpdateItemOutput{}, nil
		},
	}, testTables)

	if err := store.UpdatePendingPaymentStatus(context.Background(), "jar_j1_1", model.PaymentFailed, "TX"); err != nil {
		t.Fatal(err)
	}
	if in.ExpressionAttributeNames["#status"] != "status" {
		t.Errorf("names = %v", in.ExpressionAttributeNames)
	}
	if _, ok := in.ExpressionAttributeValues[":ptx"]; !ok {
		t.Error("provider transaction id not set")
	}
}

func TestDynamoUpdatePendingPaymentKeepsSuccess(t *testing.T) {
	item, err := attributevalue.MarshalMap(pendingPaymentItem{
		ID: "jar_j1_1", JarID: "j1", Amount: dynamoNumber{decimal.NewFromInt(5)}, Status: string(model.PaymentSuccess),
	})
	if err != nil {
		t.Fatal(err)
	}
	var cond string
	store := NewDynamoStore(&mockDynamo{
		UpdateItemFunc: func(_ context.Context, in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			cond = aws.ToString(in.ConditionExpression)
			return nil, &dynamodbtypes.ConditionalCheckFailedException{}
		},
		GetItemFunc: func(context.Context, *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: item}, nil
		},
	}, testTables)

	err = store.UpdatePendingPaymentStatus(context.Background(), "jar_j1_1", model.PaymentFailed, "")
	if !errors.Is(err, ErrPaymentSettled) {
		t.Fatalf("err = %v, want ErrPaymentSettled", err)
	}
	if cond != "attribute_exists(id) AND #status <> :success" {
		t.Errorf("condition = %q", cond)
	}
}

func TestDynamoUpdatePendingPaymentMissing(t *testing.T) {
	store := NewDynamoStore(&mockDynamo{
		UpdateItemFunc: func(context.Context, *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return nil, &dynamodbtypes.ConditionalCheckFailedException{}
		},
	}, testTables)

	err := store.UpdatePendingPaymentStatus(context.Background(), "gone", model.PaymentFailed, "")
	if !errors.Is(err, ErrPendingPaymentNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestDynamoCreateTablesToleratesExisting(t *testing.T) {
	store := NewDynamoStore(&mockDynamo{
		CreateTableFunc: func(context.Context, *dynamodb.CreateTableInput) (*dynamodb.CreateTableOutput, error) {
			return nil, &dynamodbtypes.ResourceInUseException{}
		},
	}, testTables)
	if err := store.CreateTables(context.Background()); err != nil {
		t.Fatal(err)
	}
}
