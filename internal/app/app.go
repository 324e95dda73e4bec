package app

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"lead-assistant/internal/auth"
	"lead-assistant/internal/background"
	"lead-assistant/internal/config"
	"lead-assistant/internal/conversation"
	"lead-assistant/internal/integrations/kommo"
	"lead-assistant/internal/integrations/notify"
	"lead-assistant/internal/integrations/openai"
	"lead-assistant/internal/integrations/paramstore"
	"lead-assistant/internal/repository"
	"lead-assistant/internal/tools"
	"lead-assistant/internal/usecase"
)

// App holds the services shared by the Lambda and the HTTP server
// entrypoints.
type App struct {
	Auth       *auth.Manager
	Leads      *usecase.LeadService
	Sandbox    *usecase.SandboxService
	Background *background.Group

	ChatProfile usecase.LeadProfile
	FormProfile usecase.LeadProfile
}

// New builds every dependency from cfg. AWS credentials come from the default
// chain; SSM is only consulted when PARAM_PREFIX is set.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	secrets := paramstore.Chain{paramstore.Static{
		paramstore.KeyOpenAIToken:       cfg.OpenAI.APIKey,
		paramstore.KeyKommoClientSecret: cfg.Kommo.ClientSecret,
	}}
	if cfg.ParamPrefix != "" {
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg), cfg.ParamPrefix)
		if err != nil {
			return nil, fmt.Errorf("create SSM client: %w", err)
		}
		secrets = append(secrets, ssmClient)
	}

	dynamo := awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
		if cfg.DynamoDBEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDBEndpoint)
		}
	})
	tokenStore, err := repository.NewTokenStore(dynamo, cfg.TokenTable)
	if err != nil {
		return nil, fmt.Errorf("create token store: %w", err)
	}

	return Build(cfg, tokenStore, secrets, log)
}

// Build wires the services around an existing token store and secret source.
func Build(cfg *config.Config, tokenStore auth.TokenStore, secrets paramstore.SecretSource, log zerolog.Logger) (*App, error) {
	kommoHTTP := resty.New().
		SetBaseURL(cfg.Kommo.BaseURL).
		SetTimeout(cfg.Kommo.Timeout).
		SetHeader("Accept", "application/json")

	manager, err := auth.NewManager(tokenStore, kommoHTTP, secrets, auth.Config{
		Domain:      cfg.Kommo.Subdomain,
		ClientID:    cfg.Kommo.ClientID,
		RedirectURI: cfg.Kommo.RedirectURI,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("create auth manager: %w", err)
	}
	signer, err := auth.NewSigner(kommoHTTP, manager, log)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	crm, err := kommo.NewClient(signer)
	if err != nil {
		return nil, fmt.Errorf("create kommo client: %w", err)
	}

	var notifier tools.Notifier
	if cfg.NotifyURL != "" {
		n, err := notify.NewClient(resty.New().SetTimeout(cfg.Kommo.Timeout), cfg.NotifyURL)
		if err != nil {
			return nil, fmt.Errorf("create notify client: %w", err)
		}
		notifier = n
	}

	ai, err := openai.NewClient(secrets,
		openai.WithBaseURL(cfg.OpenAI.BaseURL),
		openai.WithRestyClient(resty.New().SetTimeout(cfg.OpenAI.Timeout)),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}

	store, err := conversation.NewMemoryStore(cfg.ConversationCapacity)
	if err != nil {
		return nil, fmt.Errorf("create conversation store: %w", err)
	}

	dispatcher, err := tools.NewDispatcher(crm, manager, notifier, tools.Fields{
		Action:            cfg.Fields.Action,
		StatusInAttention: cfg.Fields.StatusInAttention,
		SaveForm:          cfg.Fields.SaveForm,
		SubmitForm:        cfg.Fields.SubmitForm,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("create tool dispatcher: %w", err)
	}

	orchestrator, err := usecase.NewOrchestrator(ai, dispatcher, store, cfg.OpenAI.MaxOutputTokens, log)
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}

	group := background.New(cfg.Kommo.Timeout, log)
	leads, err := usecase.NewLeadService(crm, manager, orchestrator, dispatcher, group,
		usecase.LeadFields{
			ClientMessage:  cfg.Fields.ClientMessage,
			ConversationID: cfg.Fields.ConversationID,
			SalesbotID:     cfg.Fields.SalesbotID,
		},
		usecase.Origin{
			LocalPrefix:  cfg.Origin.LocalPhonePrefix,
			LocalLabel:   cfg.Origin.LocalLabel,
			ForeignLabel: cfg.Origin.ForeignLabel,
		}, log)
	if err != nil {
		return nil, fmt.Errorf("create lead service: %w", err)
	}

	chat := usecase.Profile{Name: "chat", PromptID: cfg.OpenAI.PromptID, PromptVersion: cfg.OpenAI.PromptVersion}
	sandbox, err := usecase.NewSandboxService(orchestrator, chat)
	if err != nil {
		return nil, fmt.Errorf("create sandbox service: %w", err)
	}

	return &App{
		Auth:       manager,
		Leads:      leads,
		Sandbox:    sandbox,
		Background: group,
		ChatProfile: usecase.LeadProfile{
			Profile:        chat,
			AnswerField:    cfg.Fields.Answer,
			TagOrigin:      true,
			LaunchSalesbot: true,
		},
		FormProfile: usecase.LeadProfile{
			Profile:        usecase.Profile{Name: "form", PromptID: cfg.OpenAI.FormPromptID},
			AnswerField:    cfg.Fields.FormAnswer,
			DefaultMessage: cfg.FormDefaultMessage,
		},
	}, nil
}
