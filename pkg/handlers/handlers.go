// Package handlers provides the built-in step handlers of the portal processes.
package handlers

import (
	"context"
	"log/slog"

	"github.com/dukex/portal-processes/pkg/models"
	"github.com/dukex/portal-processes/pkg/processes"
)

// Dependencies are the collaborators the handlers call.
type Dependencies struct {
	Identity      IdentityProvisioner
	Mailer        Mailer
	Applications  ApplicationRegistry
	Subscriptions SubscriptionProvisioner
}

// LoggingDependencies backs every collaborator with Logging.
func LoggingDependencies(logger *slog.Logger) Dependencies {
	logging := NewLogging(logger)

	return Dependencies{
		Identity:      logging,
		Mailer:        logging,
		Applications:  logging,
		Subscriptions: logging,
	}
}

// Permanent marks a collaborator error as not worth a retrigger.
func Permanent(err error) error {
	return processes.Permanent(err)
}

// Register registers the handlers of every process type.
func Register(registry *processes.Registry, deps Dependencies) error {
	for _, links := range [][]link{
		invitationChain(deps),
		checklistChain(deps),
		subscriptionChain(deps),
		mailingChain(deps),
	} {
		err := register(registry, links)
		if err != nil {
			return err
		}
	}

	return nil
}

// FollowUps are the steps scheduled when a manual step is completed without explicit next steps.
func FollowUps() map[models.ProcessStepType][]models.ProcessStepType {
	return map[models.ProcessStepType][]models.ProcessStepType{
		models.StepVerifyRegistration:                {models.StepCreateBusinessPartnerNumberPush},
		models.StepCreateBusinessPartnerNumberManual: {models.StepCreateIdentityWallet},
		models.StepEndClearingHouse:                  {models.StepStartSelfDescriptionLP},
		models.StepFinishSelfDescriptionLP:           {models.StepActivateApplication},
		models.StepAwaitStartAutosetup:               {models.StepOfferSubscriptionClientCreation},
	}
}

// InitialSteps returns the steps a new process of processType starts with.
func InitialSteps(processType models.ProcessType) []models.ProcessStepType {
	switch processType {
	case models.ProcessTypeInvitation:
		return []models.ProcessStepType{models.StepInvitationCreateCentralIdp}
	case models.ProcessTypeApplicationChecklist:
		return []models.ProcessStepType{models.StepVerifyRegistration}
	case models.ProcessTypeOfferSubscription:
		return []models.ProcessStepType{models.StepTriggerProvider}
	case models.ProcessTypeMailing:
		return []models.ProcessStepType{models.StepSendMail}
	default:
		return nil
	}
}

func invitationChain(deps Dependencies) []link {
	provision := func(stepType models.ProcessStepType) link {
		return link{
			stepType: stepType,
			run: noMessage(func(ctx context.Context, invitationID string) error {
				return deps.Identity.Provision(ctx, stepType, invitationID)
			}),
		}
	}

	return chain(
		provision(models.StepInvitationCreateCentralIdp),
		provision(models.StepInvitationCreateSharedIdpServiceAccount),
		provision(models.StepInvitationAddRealmRole),
		provision(models.StepInvitationCreateSharedRealm),
		provision(models.StepInvitationUpdateCentralIdpUrls),
		provision(models.StepInvitationCreateCentralIdpOrgMapper),
		provision(models.StepInvitationEnableCentralIdp),
		provision(models.StepInvitationCreateDatabaseIdp),
		link{
			stepType: models.StepInvitationCreateUser,
			run: func(ctx context.Context, invitationID string) (string, error) {
				userID, err := deps.Identity.CreateUser(ctx, invitationID)
				if err != nil {
					return "", err
				}

				return "user " + userID + " created", nil
			},
		},
		link{
			stepType: models.StepInvitationSendMail,
			run: noMessage(func(ctx context.Context, invitationID string) error {
				return deps.Mailer.Send(ctx, invitationID, "invitation")
			}),
		},
	)
}

func checklistChain(deps Dependencies) []link {
	apps := deps.Applications

	return append(
		chain(
			link{
				stepType:  models.StepCreateBusinessPartnerNumberPush,
				run:       noMessage(apps.PushBusinessPartnerNumber),
				checklist: models.ChecklistEntryBusinessPartnerNumber,
				onSuccess: models.ChecklistStatusInProgress,
				next:      []models.ProcessStepType{models.StepCreateBusinessPartnerNumberPull},
			},
			link{
				stepType:  models.StepCreateBusinessPartnerNumberPull,
				run:       apps.PullBusinessPartnerNumber,
				checklist: models.ChecklistEntryBusinessPartnerNumber,
				onSuccess: models.ChecklistStatusDone,
			},
			link{
				stepType:  models.StepCreateIdentityWallet,
				run:       apps.CreateIdentityWallet,
				checklist: models.ChecklistEntryIdentityWallet,
				onSuccess: models.ChecklistStatusDone,
			},
			link{
				stepType:  models.StepStartClearingHouse,
				run:       noMessage(apps.StartClearingHouse),
				checklist: models.ChecklistEntryClearingHouse,
				onSuccess: models.ChecklistStatusInProgress,
				next:      []models.ProcessStepType{models.StepEndClearingHouse},
			},
		),
		link{
			stepType:  models.StepStartSelfDescriptionLP,
			run:       noMessage(apps.StartSelfDescription),
			checklist: models.ChecklistEntrySelfDescriptionLP,
			onSuccess: models.ChecklistStatusInProgress,
			next:      []models.ProcessStepType{models.StepFinishSelfDescriptionLP},
		},
		link{
			stepType:  models.StepActivateApplication,
			run:       noMessage(apps.ActivateApplication),
			checklist: models.ChecklistEntryApplicationActivation,
			onSuccess: models.ChecklistStatusDone,
		},
	)
}

func subscriptionChain(deps Dependencies) []link {
	subs := deps.Subscriptions

	return append(
		[]link{{
			stepType: models.StepTriggerProvider,
			run:      noMessage(subs.TriggerProvider),
			next:     []models.ProcessStepType{models.StepAwaitStartAutosetup},
		}},
		chain(
			link{
				stepType: models.StepOfferSubscriptionClientCreation,
				run: func(ctx context.Context, subscriptionID string) (string, error) {
					clientID, err := subs.CreateClient(ctx, subscriptionID)
					if err != nil {
						return "", err
					}

					return "client " + clientID + " created", nil
				},
			},
			link{
				stepType: models.StepOfferSubscriptionTechnicalUserCreation,
				run: func(ctx context.Context, subscriptionID string) (string, error) {
					userID, err := subs.CreateTechnicalUser(ctx, subscriptionID)
					if err != nil {
						return "", err
					}

					return "technical user " + userID + " created", nil
				},
			},
			link{stepType: models.StepActivateSubscription, run: noMessage(subs.ActivateSubscription)},
			link{stepType: models.StepTriggerProviderCallback, run: noMessage(subs.CallbackProvider)},
		)...,
	)
}

func mailingChain(deps Dependencies) []link {
	return []link{{
		stepType: models.StepSendMail,
		run: noMessage(func(ctx context.Context, externalID string) error {
			return deps.Mailer.Send(ctx, externalID, "notification")
		}),
	}}
}
