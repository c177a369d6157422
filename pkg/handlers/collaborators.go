package handlers

import (
	"context"
	"log/slog"

	"github.com/dukex/portal-processes/pkg/models"
	"github.com/dukex/portal-processes/pkg/template"
	"github.com/google/uuid"
)

// IdentityProvisioner sets up the identity provider side of an invitation.
type IdentityProvisioner interface {
	// Provision runs the identity provider operation behind stepType for invitationID.
	Provision(ctx context.Context, stepType models.ProcessStepType, invitationID string) error
	CreateUser(ctx context.Context, invitationID string) (string, error)
}

// Mailer delivers templated mails to the entity behind externalID.
type Mailer interface {
	Send(ctx context.Context, externalID, templateName string) error
}

// ApplicationRegistry talks to the services an application checklist depends on.
type ApplicationRegistry interface {
	PushBusinessPartnerNumber(ctx context.Context, applicationID string) error
	PullBusinessPartnerNumber(ctx context.Context, applicationID string) (string, error)
	CreateIdentityWallet(ctx context.Context, applicationID string) (string, error)
	StartClearingHouse(ctx context.Context, applicationID string) error
	StartSelfDescription(ctx context.Context, applicationID string) error
	ActivateApplication(ctx context.Context, applicationID string) error
}

// SubscriptionProvisioner drives the provider side of an offer subscription.
type SubscriptionProvisioner interface {
	TriggerProvider(ctx context.Context, subscriptionID string) error
	CreateClient(ctx context.Context, subscriptionID string) (string, error)
	CreateTechnicalUser(ctx context.Context, subscriptionID string) (string, error)
	ActivateSubscription(ctx context.Context, subscriptionID string) error
	CallbackProvider(ctx context.Context, subscriptionID string) error
}

// Logging implements every collaborator by logging the call. It is meant for development.
type Logging struct {
	logger *slog.Logger
	mails  *template.Catalog
}

func NewLogging(logger *slog.Logger) *Logging {
	return &Logging{logger: logger.With("module", "collaborator"), mails: template.DefaultCatalog()}
}

func (l *Logging) log(ctx context.Context, operation, externalID string, attrs ...any) {
	l.logger.InfoContext(ctx, "collaborator called", append([]any{"operation", operation, "external_id", externalID}, attrs...)...)
}

func (l *Logging) Provision(ctx context.Context, stepType models.ProcessStepType, invitationID string) error {
	l.log(ctx, "provision", invitationID, "step_type", stepType)

	return nil
}

func (l *Logging) CreateUser(ctx context.Context, invitationID string) (string, error) {
	userID := uuid.NewString()
	l.log(ctx, "create_user", invitationID, "user_id", userID)

	return userID, nil
}

// Send renders the mail without delivering it. Unknown templates fail permanently.
func (l *Logging) Send(ctx context.Context, externalID, templateName string) error {
	mail, err := l.mails.Render(templateName, template.Data{ExternalID: externalID})
	if err != nil {
		return Permanent(err)
	}

	l.log(ctx, "send_mail", externalID, "template", templateName, "subject", mail.Subject)

	return nil
}

func (l *Logging) PushBusinessPartnerNumber(ctx context.Context, applicationID string) error {
	l.log(ctx, "push_business_partner_number", applicationID)

	return nil
}

func (l *Logging) PullBusinessPartnerNumber(ctx context.Context, applicationID string) (string, error) {
	l.log(ctx, "pull_business_partner_number", applicationID)

	return "BPNL" + applicationID, nil
}

func (l *Logging) CreateIdentityWallet(ctx context.Context, applicationID string) (string, error) {
	walletID := uuid.NewString()
	l.log(ctx, "create_identity_wallet", applicationID, "wallet_id", walletID)

	return walletID, nil
}

func (l *Logging) StartClearingHouse(ctx context.Context, applicationID string) error {
	l.log(ctx, "start_clearing_house", applicationID)

	return nil
}

func (l *Logging) StartSelfDescription(ctx context.Context, applicationID string) error {
	l.log(ctx, "start_self_description", applicationID)

	return nil
}

func (l *Logging) ActivateApplication(ctx context.Context, applicationID string) error {
	l.log(ctx, "activate_application", applicationID)

	return nil
}

func (l *Logging) TriggerProvider(ctx context.Context, subscriptionID string) error {
	l.log(ctx, "trigger_provider", subscriptionID)

	return nil
}

func (l *Logging) CreateClient(ctx context.Context, subscriptionID string) (string, error) {
	clientID := uuid.NewString()
	l.log(ctx, "create_client", subscriptionID, "client_id", clientID)

	return clientID, nil
}

func (l *Logging) CreateTechnicalUser(ctx context.Context, subscriptionID string) (string, error) {
	userID := uuid.NewString()
	l.log(ctx, "create_technical_user", subscriptionID, "technical_user_id", userID)

	return userID, nil
}

func (l *Logging) ActivateSubscription(ctx context.Context, subscriptionID string) error {
	l.log(ctx, "activate_subscription", subscriptionID)

	return nil
}

func (l *Logging) CallbackProvider(ctx context.Context, subscriptionID string) error {
	l.log(ctx, "callback_provider", subscriptionID)

	return nil
}
