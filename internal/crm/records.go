package crm

import (
	"context"
	"encoding/json"

	"zoho-crm-bridge/internal/token"
)

// Defaults holds the placeholder values for omitted fields.
type Defaults struct {
	Contact ContactDefaults
	Deal    DealDefaults
	// FallbackContactID and FallbackOwnerID are used for deals when the
	// session has no linked contact.
	FallbackContactID string
	FallbackOwnerID   string
}

// ContactDefaults are the placeholders for omitted contact fields.
type ContactDefaults struct {
	Company   string
	FirstName string
	LastName  string
	Email     string
	State     string
}

// DealDefaults are the placeholders for omitted deal fields.
type DealDefaults struct {
	Description string
	DealName    string
	Stage       string
}

// ContactInput contains the data for creating a new contact.
// Empty fields are replaced by the configured defaults.
type ContactInput struct {
	Company   string
	FirstName string
	LastName  string
	Email     string
	State     string
}

// WithDefaults returns a copy of in with empty fields filled from d.
func (in ContactInput) WithDefaults(d ContactDefaults) ContactInput {
	out := in
	fill(&out.Company, d.Company)
	fill(&out.FirstName, d.FirstName)
	fill(&out.LastName, d.LastName)
	fill(&out.Email, d.Email)
	fill(&out.State, d.State)
	return out
}

// contactRecord is the Contacts record as sent to Zoho.
type contactRecord struct {
	Company   string `json:"Company"`
	LastName  string `json:"Last_Name"`
	FirstName string `json:"First_Name"`
	Email     string `json:"Email"`
	State     string `json:"State"`
}

// CreatedContact contains the result of a contact creation.
type CreatedContact struct {
	ID string
	// OwnerID is the id of the user the record was created by.
	OwnerID string
	// Raw is the provider's response body.
	Raw json.RawMessage
}

// CreateContact creates a new contact in Zoho CRM.
func (s *Service) CreateContact(ctx context.Context, lease token.Lease, input ContactInput) (*CreatedContact, error) {
	in := input.WithDefaults(s.defaults.Contact)

	res, err := s.insert(ctx, lease, ModuleContacts, contactRecord{
		Company:   in.Company,
		LastName:  in.LastName,
		FirstName: in.FirstName,
		Email:     in.Email,
		State:     in.State,
	})
	if err != nil {
		return nil, err
	}

	return &CreatedContact{ID: res.ID, OwnerID: res.OwnerID, Raw: res.Raw}, nil
}

// LinkedContact identifies the contact a deal is attached to by default.
type LinkedContact struct {
	ID      string
	OwnerID string
}

// DealInput contains the data for creating a new deal.
// Empty fields are replaced by the linked contact or the configured defaults.
type DealInput struct {
	OwnerID     string
	Description string
	ContactID   string
	DealName    string
	Stage       string
}

// WithDefaults returns a copy of in with empty fields filled. Owner and
// contact come from linked when set, otherwise from the fallback ids.
func (in DealInput) WithDefaults(d Defaults, linked LinkedContact) DealInput {
	out := in
	fill(&out.OwnerID, linked.OwnerID)
	fill(&out.OwnerID, d.FallbackOwnerID)
	fill(&out.ContactID, linked.ID)
	fill(&out.ContactID, d.FallbackContactID)
	fill(&out.Description, d.Deal.Description)
	fill(&out.DealName, d.Deal.DealName)
	fill(&out.Stage, d.Deal.Stage)
	return out
}

type recordRef struct {
	ID string `json:"id"`
}

// dealRecord is the Deals record as sent to Zoho.
type dealRecord struct {
	Owner       recordRef `json:"Owner"`
	Description string    `json:"Description"`
	ContactName recordRef `json:"Contact_Name"`
	DealName    string    `json:"Deal_Name"`
	Stage       string    `json:"Stage"`
}

// CreatedDeal contains the result of a deal creation.
type CreatedDeal struct {
	ID  string
	Raw json.RawMessage
}

// CreateDeal creates a new deal in Zoho CRM.
func (s *Service) CreateDeal(ctx context.Context, lease token.Lease, input DealInput, linked LinkedContact) (*CreatedDeal, error) {
	in := input.WithDefaults(s.defaults, linked)

	res, err := s.insert(ctx, lease, ModuleDeals, dealRecord{
		Owner:       recordRef{ID: in.OwnerID},
		Description: in.Description,
		ContactName: recordRef{ID: in.ContactID},
		DealName:    in.DealName,
		Stage:       in.Stage,
	})
	if err != nil {
		return nil, err
	}

	return &CreatedDeal{ID: res.ID, Raw: res.Raw}, nil
}

func fill(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
