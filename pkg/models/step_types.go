package models

// ProcessStepType identifies one kind of unit of work inside a process type.
type ProcessStepType string

// Application checklist steps.
const (
	StepVerifyRegistration                 ProcessStepType = "VERIFY_REGISTRATION"
	StepCreateBusinessPartnerNumberPush    ProcessStepType = "CREATE_BUSINESS_PARTNER_NUMBER_PUSH"
	StepCreateBusinessPartnerNumberPull    ProcessStepType = "CREATE_BUSINESS_PARTNER_NUMBER_PULL"
	StepCreateBusinessPartnerNumberManual  ProcessStepType = "CREATE_BUSINESS_PARTNER_NUMBER_MANUAL"
	StepCreateIdentityWallet               ProcessStepType = "CREATE_IDENTITY_WALLET"
	StepStartClearingHouse                 ProcessStepType = "START_CLEARING_HOUSE"
	StepEndClearingHouse                   ProcessStepType = "END_CLEARING_HOUSE"
	StepStartSelfDescriptionLP             ProcessStepType = "START_SELF_DESCRIPTION_LP"
	StepFinishSelfDescriptionLP            ProcessStepType = "FINISH_SELF_DESCRIPTION_LP"
	StepActivateApplication                ProcessStepType = "ACTIVATE_APPLICATION"
	StepDeclineApplication                 ProcessStepType = "DECLINE_APPLICATION"
	StepRetriggerBusinessPartnerNumberPush ProcessStepType = "RETRIGGER_BUSINESS_PARTNER_NUMBER_PUSH"
	StepRetriggerBusinessPartnerNumberPull ProcessStepType = "RETRIGGER_BUSINESS_PARTNER_NUMBER_PULL"
	StepRetriggerIdentityWallet            ProcessStepType = "RETRIGGER_IDENTITY_WALLET"
	StepRetriggerClearingHouse             ProcessStepType = "RETRIGGER_CLEARING_HOUSE"
	StepRetriggerSelfDescriptionLP         ProcessStepType = "RETRIGGER_SELF_DESCRIPTION_LP"
)

// Offer subscription steps.
const (
	StepTriggerProvider                          ProcessStepType = "TRIGGER_PROVIDER"
	StepAwaitStartAutosetup                      ProcessStepType = "AWAIT_START_AUTOSETUP"
	StepOfferSubscriptionClientCreation          ProcessStepType = "OFFERSUBSCRIPTION_CLIENT_CREATION"
	StepOfferSubscriptionTechnicalUserCreation   ProcessStepType = "OFFERSUBSCRIPTION_TECHNICALUSER_CREATION"
	StepActivateSubscription                     ProcessStepType = "ACTIVATE_SUBSCRIPTION"
	StepTriggerProviderCallback                  ProcessStepType = "TRIGGER_PROVIDER_CALLBACK"
	StepRetriggerProvider                        ProcessStepType = "RETRIGGER_PROVIDER"
	StepRetriggerOfferSubscriptionClientCreation ProcessStepType = "RETRIGGER_OFFERSUBSCRIPTION_CLIENT_CREATION"
	StepRetriggerOfferSubscriptionTechnicalUser  ProcessStepType = "RETRIGGER_OFFERSUBSCRIPTION_TECHNICALUSER_CREATION"
	StepRetriggerActivateSubscription            ProcessStepType = "RETRIGGER_ACTIVATE_SUBSCRIPTION"
	StepRetriggerProviderCallback                ProcessStepType = "RETRIGGER_PROVIDER_CALLBACK"
)

// Mailing steps.
const (
	StepSendMail          ProcessStepType = "SEND_MAIL"
	StepRetriggerSendMail ProcessStepType = "RETRIGGER_SEND_MAIL"
)

// Invitation steps.
const (
	StepInvitationCreateCentralIdp                   ProcessStepType = "INVITATION_CREATE_CENTRAL_IDP"
	StepInvitationCreateSharedIdpServiceAccount      ProcessStepType = "INVITATION_CREATE_SHARED_IDP_SERVICE_ACCOUNT"
	StepInvitationAddRealmRole                       ProcessStepType = "INVITATION_ADD_REALM_ROLE"
	StepInvitationCreateSharedRealm                  ProcessStepType = "INVITATION_CREATE_SHARED_REALM"
	StepInvitationUpdateCentralIdpUrls               ProcessStepType = "INVITATION_UPDATE_CENTRAL_IDP_URLS"
	StepInvitationCreateCentralIdpOrgMapper          ProcessStepType = "INVITATION_CREATE_CENTRAL_IDP_ORG_MAPPER"
	StepInvitationEnableCentralIdp                   ProcessStepType = "INVITATION_ENABLE_CENTRAL_IDP"
	StepInvitationCreateDatabaseIdp                  ProcessStepType = "INVITATION_CREATE_DATABASE_IDP"
	StepInvitationCreateUser                         ProcessStepType = "INVITATION_CREATE_USER"
	StepInvitationSendMail                           ProcessStepType = "INVITATION_SEND_MAIL"
	StepRetriggerInvitationCreateCentralIdp          ProcessStepType = "RETRIGGER_INVITATION_CREATE_CENTRAL_IDP"
	StepRetriggerInvitationCreateSharedIdpSvcAcct    ProcessStepType = "RETRIGGER_INVITATION_CREATE_SHARED_IDP_SERVICE_ACCOUNT"
	StepRetriggerInvitationAddRealmRole              ProcessStepType = "RETRIGGER_INVITATION_ADD_REALM_ROLE"
	StepRetriggerInvitationCreateSharedRealm         ProcessStepType = "RETRIGGER_INVITATION_CREATE_SHARED_REALM"
	StepRetriggerInvitationUpdateCentralIdpUrls      ProcessStepType = "RETRIGGER_INVITATION_UPDATE_CENTRAL_IDP_URLS"
	StepRetriggerInvitationCreateCentralIdpOrgMapper ProcessStepType = "RETRIGGER_INVITATION_CREATE_CENTRAL_IDP_ORG_MAPPER"
	StepRetriggerInvitationEnableCentralIdp          ProcessStepType = "RETRIGGER_INVITATION_ENABLE_CENTRAL_IDP"
	StepRetriggerInvitationCreateDatabaseIdp         ProcessStepType = "RETRIGGER_INVITATION_CREATE_DATABASE_IDP"
	StepRetriggerInvitationCreateUser                ProcessStepType = "RETRIGGER_INVITATION_CREATE_USER"
	StepRetriggerInvitationSendMail                  ProcessStepType = "RETRIGGER_INVITATION_SEND_MAIL"
)

// StepKind tells the engine how steps of a type are advanced.
type StepKind string

const (
	// StepKindExecutable steps are run by a registered handler.
	StepKindExecutable StepKind = "executable"
	// StepKindManual steps wait for an operator decision or an external callback.
	StepKindManual StepKind = "manual"
	// StepKindRetrigger steps re-enter another step type of the same process.
	StepKindRetrigger StepKind = "retrigger"
)

// StepTypeDefinition declares one step type and its links to process types and retrigger variants.
type StepTypeDefinition struct {
	Type         ProcessStepType
	ProcessTypes []ProcessType
	Kind         StepKind
	// Retrigger names the retrigger step type substituting for Type when it fails.
	Retrigger ProcessStepType
}

func executable(stepType ProcessStepType, retrigger ProcessStepType, processTypes ...ProcessType) StepTypeDefinition {
	return StepTypeDefinition{Type: stepType, ProcessTypes: processTypes, Kind: StepKindExecutable, Retrigger: retrigger}
}

func manual(stepType ProcessStepType, processTypes ...ProcessType) StepTypeDefinition {
	return StepTypeDefinition{Type: stepType, ProcessTypes: processTypes, Kind: StepKindManual}
}

func retrigger(stepType ProcessStepType, processTypes ...ProcessType) StepTypeDefinition {
	return StepTypeDefinition{Type: stepType, ProcessTypes: processTypes, Kind: StepKindRetrigger}
}

// DefaultStepTypeDefinitions is the built-in step type catalogue.
func DefaultStepTypeDefinitions() []StepTypeDefinition {
	const (
		checklist    = ProcessTypeApplicationChecklist
		subscription = ProcessTypeOfferSubscription
		invitation   = ProcessTypeInvitation
		mailing      = ProcessTypeMailing
	)

	return []StepTypeDefinition{
		manual(StepVerifyRegistration, checklist),
		executable(StepCreateBusinessPartnerNumberPush, StepRetriggerBusinessPartnerNumberPush, checklist),
		executable(StepCreateBusinessPartnerNumberPull, StepRetriggerBusinessPartnerNumberPull, checklist),
		manual(StepCreateBusinessPartnerNumberManual, checklist),
		executable(StepCreateIdentityWallet, StepRetriggerIdentityWallet, checklist),
		executable(StepStartClearingHouse, StepRetriggerClearingHouse, checklist),
		manual(StepEndClearingHouse, checklist),
		executable(StepStartSelfDescriptionLP, StepRetriggerSelfDescriptionLP, checklist),
		manual(StepFinishSelfDescriptionLP, checklist),
		executable(StepActivateApplication, "", checklist),
		manual(StepDeclineApplication, checklist),
		retrigger(StepRetriggerBusinessPartnerNumberPush, checklist),
		retrigger(StepRetriggerBusinessPartnerNumberPull, checklist),
		retrigger(StepRetriggerIdentityWallet, checklist),
		retrigger(StepRetriggerClearingHouse, checklist),
		retrigger(StepRetriggerSelfDescriptionLP, checklist),

		executable(StepTriggerProvider, StepRetriggerProvider, subscription),
		manual(StepAwaitStartAutosetup, subscription),
		executable(StepOfferSubscriptionClientCreation, StepRetriggerOfferSubscriptionClientCreation, subscription),
		executable(StepOfferSubscriptionTechnicalUserCreation, StepRetriggerOfferSubscriptionTechnicalUser, subscription),
		executable(StepActivateSubscription, StepRetriggerActivateSubscription, subscription),
		executable(StepTriggerProviderCallback, StepRetriggerProviderCallback, subscription),
		retrigger(StepRetriggerProvider, subscription),
		retrigger(StepRetriggerOfferSubscriptionClientCreation, subscription),
		retrigger(StepRetriggerOfferSubscriptionTechnicalUser, subscription),
		retrigger(StepRetriggerActivateSubscription, subscription),
		retrigger(StepRetriggerProviderCallback, subscription),

		executable(StepSendMail, StepRetriggerSendMail, mailing),
		retrigger(StepRetriggerSendMail, mailing),

		executable(StepInvitationCreateCentralIdp, StepRetriggerInvitationCreateCentralIdp, invitation),
		executable(StepInvitationCreateSharedIdpServiceAccount, StepRetriggerInvitationCreateSharedIdpSvcAcct, invitation),
		executable(StepInvitationAddRealmRole, StepRetriggerInvitationAddRealmRole, invitation),
		executable(StepInvitationCreateSharedRealm, StepRetriggerInvitationCreateSharedRealm, invitation),
		executable(StepInvitationUpdateCentralIdpUrls, StepRetriggerInvitationUpdateCentralIdpUrls, invitation),
		executable(StepInvitationCreateCentralIdpOrgMapper, StepRetriggerInvitationCreateCentralIdpOrgMapper, invitation),
		executable(StepInvitationEnableCentralIdp, StepRetriggerInvitationEnableCentralIdp, invitation),
		executable(StepInvitationCreateDatabaseIdp, StepRetriggerInvitationCreateDatabaseIdp, invitation),
		executable(StepInvitationCreateUser, StepRetriggerInvitationCreateUser, invitation),
		executable(StepInvitationSendMail, StepRetriggerInvitationSendMail, invitation),
		retrigger(StepRetriggerInvitationCreateCentralIdp, invitation),
		retrigger(StepRetriggerInvitationCreateSharedIdpSvcAcct, invitation),
		retrigger(StepRetriggerInvitationAddRealmRole, invitation),
		retrigger(StepRetriggerInvitationCreateSharedRealm, invitation),
		retrigger(StepRetriggerInvitationUpdateCentralIdpUrls, invitation),
		retrigger(StepRetriggerInvitationCreateCentralIdpOrgMapper, invitation),
		retrigger(StepRetriggerInvitationEnableCentralIdp, invitation),
		retrigger(StepRetriggerInvitationCreateDatabaseIdp, invitation),
		retrigger(StepRetriggerInvitationCreateUser, invitation),
		retrigger(StepRetriggerInvitationSendMail, invitation),
	}
}
