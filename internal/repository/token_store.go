package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"lead-assistant/internal/domain"
)

const (
	attrDomain       = "domain"
	attrAccessToken  = "access_token"
	attrRefreshToken = "refresh_token"
)

// dynamodbAPI is the minimal DynamoDB interface required by TokenStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// TokenStore persists one credential row per CRM domain. The table's hash
// key is the domain, which keeps at most one row per domain.
type TokenStore struct {
	api       dynamodbAPI
	tableName string
}

// NewTokenStore creates a TokenStore backed by the given table.
func NewTokenStore(api dynamodbAPI, tableName string) (*TokenStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &TokenStore{api: api, tableName: tableName}, nil
}

// Load returns the credential for domain. A missing row is created with
// empty tokens, so callers always get a record back.
func (s *TokenStore) Load(ctx context.Context, domainName string) (domain.Credential, error) {
	if strings.TrimSpace(domainName) == "" {
		return domain.Credential{}, errors.New("repository: Load: domain is required")
	}

	cred, found, err := s.get(ctx, domainName)
	if err != nil {
		return domain.Credential{}, err
	}
	if found {
		return cred, nil
	}

	empty := domain.Credential{Domain: domainName}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                credentialItem(empty),
		ConditionExpression: aws.String("attribute_not_exists(#d)"),
		ExpressionAttributeNames: map[string]string{
			"#d": attrDomain,
		},
	})
	if err == nil {
		return empty, nil
	}

	// Another writer created the row first; read what it stored.
	var condErr *types.ConditionalCheckFailedException
	if !errors.As(err, &condErr) {
		return domain.Credential{}, fmt.Errorf("repository: Load create: %w", err)
	}
	cred, found, err = s.get(ctx, domainName)
	if err != nil {
		return domain.Credential{}, err
	}
	if !found {
		return domain.Credential{}, fmt.Errorf("repository: Load: row for %q vanished after create race", domainName)
	}
	return cred, nil
}

// Save upserts the token pair for the credential's domain.
func (s *TokenStore) Save(ctx context.Context, cred domain.Credential) error {
	if strings.TrimSpace(cred.Domain) == "" {
		return errors.New("repository: Save: domain is required")
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      credentialItem(cred),
	})
	if err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}
	return nil
}

func (s *TokenStore) get(ctx context.Context, domainName string) (domain.Credential, bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			attrDomain: &types.AttributeValueMemberS{Value: domainName},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Credential{}, false, fmt.Errorf("repository: get credential: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Credential{}, false, nil
	}
	cred, err := itemToCredential(out.Item)
	if err != nil {
		return domain.Credential{}, false, fmt.Errorf("repository: decode credential: %w", err)
	}
	return cred, true, nil
}

func credentialItem(cred domain.Credential) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrDomain:       &types.AttributeValueMemberS{Value: cred.Domain},
		attrAccessToken:  &types.AttributeValueMemberS{Value: cred.AccessToken},
		attrRefreshToken: &types.AttributeValueMemberS{Value: cred.RefreshToken},
	}
}

func itemToCredential(item map[string]types.AttributeValue) (domain.Credential, error) {
	d, err := strAttr(item, attrDomain)
	if err != nil {
		return domain.Credential{}, err
	}
	access, _ := strAttr(item, attrAccessToken)   // allow empty
	refresh, _ := strAttr(item, attrRefreshToken) // allow empty
	return domain.Credential{
		Domain:       d,
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
