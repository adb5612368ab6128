package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/svirmi/lifejar-payments/internal/model"
)

// DynamoAPI is the subset of *dynamodb.Client the store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

type DynamoTables struct {
	Jars            string
	Contributions   string
	PendingPayments string
}

const contributionsByJarIndex = "jar_id-index"

// DynamoStore keeps jars, contributions and pending payments in three
// tables. DynamoDB has no foreign keys, so a contribution for a deleted jar
// is caught by the conditional increment and compensated by the ledger.
type DynamoStore struct {
	client DynamoAPI
	tables DynamoTables
	now    func() time.Time
}

func NewDynamoStore(client DynamoAPI, tables DynamoTables) *DynamoStore {
	return &DynamoStore{client: client, tables: tables, now: time.Now}
}

// dynamoNumber stores a decimal as a DynamoDB N so ADD can operate on it.
type dynamoNumber struct {
	decimal.Decimal
}

func (n dynamoNumber) MarshalDynamoDBAttributeValue() (dynamodbtypes.AttributeValue, error) {
	return &dynamodbtypes.AttributeValueMemberN{Value: n.Decimal.String()}, nil
}

func (n *dynamoNumber) UnmarshalDynamoDBAttributeValue(av dynamodbtypes.AttributeValue) error {
	num, ok := av.(*dynamodbtypes.AttributeValueMemberN)
	if !ok {
		return fmt.Errorf("expected number attribute, got %T", av)
	}
	d, err := decimal.NewFromString(num.Value)
	if err != nil {
		return err
	}
	n.Decimal = d
	return nil
}

type jarItem struct {
	ID            string       `dynamodbav:"id"`
	OwnerID       string       `dynamodbav:"owner_id"`
	Title         string       `dynamodbav:"title"`
	TargetAmount  dynamoNumber `dynamodbav:"target_amount"`
	CurrentAmount dynamoNumber `dynamodbav:"current_amount"`
	Currency      string       `dynamodbav:"currency"`
	IsActive      bool         `dynamodbav:"is_active"`
	CreatedAt     time.Time    `dynamodbav:"created_at"`
	UpdatedAt     time.Time    `dynamodbav:"updated_at"`
}

type contributionItem struct {
	Reference             string       `dynamodbav:"reference"`
	ID                    string       `dynamodbav:"id"`
	JarID                 string       `dynamodbav:"jar_id"`
	ProviderTransactionID string       `dynamodbav:"provider_transaction_id,omitempty"`
	ContributorName       string       `dynamodbav:"contributor_name,omitempty"`
	ContributorEmail      string       `dynamodbav:"contributor_email,omitempty"`
	Amount                dynamoNumber `dynamodbav:"amount"`
	Currency              string       `dynamodbav:"currency"`
	Status                string       `dynamodbav:"status"`
	IsAnonymous           bool         `dynamodbav:"is_anonymous"`
	CreatedAt             time.Time    `dynamodbav:"created_at"`
}

type pendingPaymentItem struct {
	ID                    string       `dynamodbav:"id"`
	JarID                 string       `dynamodbav:"jar_id"`
	ProviderTransactionID string       `dynamodbav:"provider_transaction_id,omitempty"`
	Amount                dynamoNumber `dynamodbav:"amount"`
	ContributorName       string       `dynamodbav:"contributor_name"`
	ContributorEmail      string       `dynamodbav:"contributor_email,omitempty"`
	IsAnonymous           bool         `dynamodbav:"is_anonymous"`
	Channel               string       `dynamodbav:"channel"`
	Status                string       `dynamodbav:"status"`
	CreatedAt             time.Time    `dynamodbav:"created_at"`
	UpdatedAt             time.Time    `dynamodbav:"updated_at"`
}

func stringKey(name, value string) map[string]dynamodbtypes.AttributeValue {
	return map[string]dynamodbtypes.AttributeValue{name: &dynamodbtypes.AttributeValueMemberS{Value: value}}
}

func isConditionFailed(err error) bool {
	var ccf *dynamodbtypes.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (s *DynamoStore) CreateJar(ctx context.Context, jar *model.Jar) error {
	now := s.now().UTC()
	jar.CreatedAt, jar.UpdatedAt = now, now
	item, err := attributevalue.MarshalMap(jarItem{
		ID:            jar.ID,
		OwnerID:       jar.OwnerID,
		Title:         jar.Title,
		TargetAmount:  dynamoNumber{jar.TargetAmount},
		CurrentAmount: dynamoNumber{jar.CurrentAmount},
		Currency:      jar.Currency,
		IsActive:      jar.IsActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal jar: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tables.Jars),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if isConditionFailed(err) {
		return ErrDuplicateJar
	}
	if err != nil {
		return fmt.Errorf("failed to save jar to DynamoDB: %w", err)
	}
	return nil
}

func (s *DynamoStore) GetJar(ctx context.Context, id string) (*model.Jar, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.Jars),
		Key:            stringKey("id", id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get jar: %w", err)
	}
	if out.Item == nil {
		return nil, ErrJarNotFound
	}
	var it jarItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("failed to unmarshal jar: %w", err)
	}
	return &model.Jar{
		ID:            it.ID,
		OwnerID:       it.OwnerID,
		Title:         it.Title,
		TargetAmount:  it.TargetAmount.Decimal,
		CurrentAmount: it.CurrentAmount.Decimal,
		Currency:      it.Currency,
		IsActive:      it.IsActive,
		CreatedAt:     it.CreatedAt,
		UpdatedAt:     it.UpdatedAt,
	}, nil
}

func (s *DynamoStore) DeleteJar(ctx context.Context, id string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.tables.Jars),
		Key:                 stringKey("id", id),
		ConditionExpression: aws.String("attribute_exists(id)"),
	})
	if isConditionFailed(err) {
		return ErrJarNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete jar: %w", err)
	}
	return nil
}

// IncrementJarAmount uses ADD, which DynamoDB applies atomically per item,
// guarded so that a deleted jar is not resurrected by the update.
func (s *DynamoStore) IncrementJarAmount(ctx context.Context, jarID string, amount decimal.Decimal) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tables.Jars),
		Key:                 stringKey("id", jarID),
		UpdateExpression:    aws.String("ADD current_amount :amount SET updated_at = :now"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":amount": &dynamodbtypes.AttributeValueMemberN{Value: amount.String()},
			":now":    &dynamodbtypes.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if isConditionFailed(err) {
		return ErrJarNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to increment jar amount: %w", err)
	}
	return nil
}

// Contributions are keyed by reference so the conditional put is the
// uniqueness constraint.
func (s *DynamoStore) InsertContribution(ctx context.Context, c *model.Contribution) error {
	c.CreatedAt = s.now().UTC()
	item, err := attributevalue.MarshalMap(contributionItem{
		Reference:             c.Reference,
		ID:                    c.ID,
		JarID:                 c.JarID,
		ProviderTransactionID: c.ProviderTransactionID,
		ContributorName:       c.ContributorName,
		ContributorEmail:      c.ContributorEmail,
		Amount:                dynamoNumber{c.Amount},
		Currency:              c.Currency,
		Status:                string(c.Status),
		IsAnonymous:           c.IsAnonymous,
		CreatedAt:             c.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal contribution: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tables.Contributions),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(reference)"),
	})
	if isConditionFailed(err) {
		return ErrDuplicateContribution
	}
	if err != nil {
		return fmt.Errorf("failed to save contribution to DynamoDB: %w", err)
	}
	return nil
}

func (s *DynamoStore) DeleteContribution(ctx context.Context, c *model.Contribution) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(s.tables.Contributions),
		Key:                       stringKey("reference", c.Reference),
		ConditionExpression:       aws.String("id = :id"),
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{":id": &dynamodbtypes.AttributeValueMemberS{Value: c.ID}},
	})
	if isConditionFailed(err) {
		return ErrContributionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete contribution: %w", err)
	}
	return nil
}

func (s *DynamoStore) GetContributionByReference(ctx context.Context, reference string) (*model.Contribution, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.Contributions),
		Key:            stringKey("reference", reference),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get contribution: %w", err)
	}
	if out.Item == nil {
		return nil, ErrContributionNotFound
	}
	var it contributionItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("failed to unmarshal contribution: %w", err)
	}
	c := it.toModel()
	return &c, nil
}

func (s *DynamoStore) ListContributions(ctx context.Context, jarID string) ([]model.Contribution, error) {
	var (
		out  []model.Contribution
		last map[string]dynamodbtypes.AttributeValue
	)
	for {
		res, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.tables.Contributions),
			IndexName:                 aws.String(contributionsByJarIndex),
			KeyConditionExpression:    aws.String("jar_id = :jar"),
			ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{":jar": &dynamodbtypes.AttributeValueMemberS{Value: jarID}},
			ExclusiveStartKey:         last,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query contributions: %w", err)
		}
		for _, raw := range res.Items {
			var it contributionItem
			if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
				return nil, fmt.Errorf("failed to unmarshal contribution: %w", err)
			}
			out = append(out, it.toModel())
		}
		last = res.LastEvaluatedKey
		if last == nil {
			break
		}
	}
	return out, nil
}

func (it contributionItem) toModel() model.Contribution {
	return model.Contribution{
		ID:                    it.ID,
		JarID:                 it.JarID,
		Reference:             it.Reference,
		ProviderTransactionID: it.ProviderTransactionID,
		ContributorName:       it.ContributorName,
		ContributorEmail:      it.ContributorEmail,
		Amount:                it.Amount.Decimal,
		Currency:              it.Currency,
		Status:                model.ContributionStatus(it.Status),
		IsAnonymous:           it.IsAnonymous,
		CreatedAt:             it.CreatedAt,
	}
}

func (s *DynamoStore) CreatePendingPayment(ctx context.Context, p *model.PendingPayment) error {
	now := s.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	item, err := attributevalue.MarshalMap(pendingPaymentItem{
		ID:                    p.ID,
		JarID:                 p.JarID,
		ProviderTransactionID: p.ProviderTransactionID,
		Amount:                dynamoNumber{p.Amount},
		ContributorName:       p.ContributorName,
		ContributorEmail:      p.ContributorEmail,
		IsAnonymous:           p.IsAnonymous,
		Channel:               string(p.Channel),
		Status:                string(p.Status),
		CreatedAt:             now,
		UpdatedAt:             now,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal pending payment: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tables.PendingPayments),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if isConditionFailed(err) {
		return ErrDuplicatePendingPayment
	}
	if err != nil {
		return fmt.Errorf("failed to save pending payment to DynamoDB: %w", err)
	}
	return nil
}

func (s *DynamoStore) GetPendingPayment(ctx context.Context, id string) (*model.PendingPayment, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.PendingPayments),
		Key:            stringKey("id", id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get pending payment: %w", err)
	}
	if out.Item == nil {
		return nil, ErrPendingPaymentNotFound
	}
	var it pendingPaymentItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending payment: %w", err)
	}
	return &model.PendingPayment{
		ID:                    it.ID,
		JarID:                 it.JarID,
		ProviderTransactionID: it.ProviderTransactionID,
		Amount:                it.Amount.Decimal,
		ContributorName:       it.ContributorName,
		ContributorEmail:      it.ContributorEmail,
		IsAnonymous:           it.IsAnonymous,
		Channel:               model.Channel(it.Channel),
		Status:                model.PendingPaymentStatus(it.Status),
		CreatedAt:             it.CreatedAt,
		UpdatedAt:             it.UpdatedAt,
	}, nil
}

func (s *DynamoStore) UpdatePendingPaymentStatus(ctx context.Context, id string, status model.PendingPaymentStatus, providerTransactionID string) error {
	expr := "SET #status = :status, updated_at = :now"
	values := map[string]dynamodbtypes.AttributeValue{
		":status": &dynamodbtypes.AttributeValueMemberS{Value: string(status)},
		":now":    &dynamodbtypes.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339Nano)},
	}
	if providerTransactionID != "" {
		expr += ", provider_transaction_id = :ptx"
		values[":ptx"] = &dynamodbtypes.AttributeValueMemberS{Value: providerTransactionID}
	}
	cond := "attribute_exists(id)"
	if status != model.PaymentSuccess {
		cond += " AND #status <> :success"
		values[":success"] = &dynamodbtypes.AttributeValueMemberS{Value: string(model.PaymentSuccess)}
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tables.PendingPayments),
		Key:                       stringKey("id", id),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  map[string]string{"#status": "status"},
		ExpressionAttributeValues: values,
	})
	if isConditionFailed(err) {
		if _, gerr := s.GetPendingPayment(ctx, id); gerr != nil {
			return gerr
		}
		return ErrPaymentSettled
	}
	if err != nil {
		return fmt.Errorf("failed to update pending payment: %w", err)
	}
	return nil
}

// CreateTables provisions the three tables with on-demand billing. Tables
// that already exist are left alone.
func (s *DynamoStore) CreateTables(ctx context.Context) error {
	tables := []*dynamodb.CreateTableInput{
		{
			TableName:            aws.String(s.tables.Jars),
			AttributeDefinitions: []dynamodbtypes.AttributeDefinition{{AttributeName: aws.String("id"), AttributeType: dynamodbtypes.ScalarAttributeTypeS}},
			KeySchema:            []dynamodbtypes.KeySchemaElement{{AttributeName: aws.String("id"), KeyType: dynamodbtypes.KeyTypeHash}},
			BillingMode:          dynamodbtypes.BillingModePayPerRequest,
		},
		{
			TableName: aws.String(s.tables.Contributions),
			AttributeDefinitions: []dynamodbtypes.AttributeDefinition{
				{AttributeName: aws.String("reference"), AttributeType: dynamodbtypes.ScalarAttributeTypeS},
				{AttributeName: aws.String("jar_id"), AttributeType: dynamodbtypes.ScalarAttributeTypeS},
			},
			KeySchema: []dynamodbtypes.KeySchemaElement{{AttributeName: aws.String("reference"), KeyType: dynamodbtypes.KeyTypeHash}},
			GlobalSecondaryIndexes: []dynamodbtypes.GlobalSecondaryIndex{{
				IndexName:  aws.String(contributionsByJarIndex),
				KeySchema:  []dynamodbtypes.KeySchemaElement{{AttributeName: aws.String("jar_id"), KeyType: dynamodbtypes.KeyTypeHash}},
				Projection: &dynamodbtypes.Projection{ProjectionType: dynamodbtypes.ProjectionTypeAll},
			}},
			BillingMode: dynamodbtypes.BillingModePayPerRequest,
		},
		{
			TableName:            aws.String(s.tables.PendingPayments),
			AttributeDefinitions: []dynamodbtypes.AttributeDefinition{{AttributeName: aws.String("id"), AttributeType: dynamodbtypes.ScalarAttributeTypeS}},
			KeySchema:            []dynamodbtypes.KeySchemaElement{{AttributeName: aws.String("id"), KeyType: dynamodbtypes.KeyTypeHash}},
			BillingMode:          dynamodbtypes.BillingModePayPerRequest,
		},
	}
	for _, in := range tables {
		_, err := s.client.CreateTable(ctx, in)
		var inUse *dynamodbtypes.ResourceInUseException
		if errors.As(err, &inUse) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to create table %s: %w", aws.ToString(in.TableName), err)
		}
	}
	return nil
}
