// Package classification holds the Product/AggregationGroup/Classification
// data model and its append-only repository.
package classification

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a classification or product lookup misses.
var ErrNotFound = errors.New("classification: not found")

// Product is the item to classify. Immutable after import: corrections
// produce new Classification records, never a Product mutation.
type Product struct {
	ProductID       string `json:"product_id" db:"product_id"`
	TenantID        string `json:"tenant_id" db:"tenant_id"`
	DescriptionRaw  string `json:"description_raw" db:"description_raw"`
	InternalCode    string `json:"internal_code,omitempty" db:"internal_code"`
	Barcode         string `json:"barcode,omitempty" db:"barcode"`
	NCMDeclared     string `json:"ncm_declared,omitempty" db:"ncm_declared"`
	CESTDeclared    string `json:"cest_declared,omitempty" db:"cest_declared"`
	CompanyActivity string `json:"company_activity,omitempty" db:"company_activity"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// AggregationMethod names the technique that produced an AggregationGroup.
type AggregationMethod string

const (
	MethodExactDescription     AggregationMethod = "exact_description"
	MethodNormalisedDescription AggregationMethod = "normalised_description"
	MethodEmbeddingSimilarity  AggregationMethod = "embedding_similarity"
	MethodCodeEquivalence      AggregationMethod = "code_equivalence"
)

// AggregationGroup is a set of Products judged to refer to the same good.
// Invariant: a product belongs to at most one active group per tenant.
type AggregationGroup struct {
	GroupID                 string            `json:"group_id" db:"group_id"`
	TenantID                string            `json:"tenant_id" db:"tenant_id"`
	Signature               string            `json:"signature" db:"signature"`
	Members                 []string          `json:"members" db:"-"`
	RepresentativeProductID string            `json:"representative_product_id" db:"representative_product_id"`
	AggregationConfidence   float64           `json:"aggregation_confidence" db:"aggregation_confidence"`
	Method                  AggregationMethod `json:"method" db:"method"`
}

// FlowKind distinguishes the two workflow variants.
type FlowKind string

const (
	FlowConfirmation FlowKind = "confirmation"
	FlowDetermination FlowKind = "determination"
)

// Status is the terminal state of a Classification.
type Status string

const (
	StatusConfirmed     Status = "CONFIRMED"
	StatusDetermined    Status = "DETERMINED"
	StatusManualReview  Status = "MANUAL_REVIEW"
	StatusError         Status = "ERROR"
)

// NotApplicable is the explicit CEST sentinel meaning "no CEST rule applies".
const NotApplicable = "NOT_APPLICABLE"

// Classification is the decision for one product or group representative.
// Immutable after write: corrections create a new Classification that
// references the prior one via PreviousID.
type Classification struct {
	ClassificationID string     `json:"classification_id" db:"classification_id"`
	ProductID        string     `json:"product_id" db:"product_id"`
	TenantID         string     `json:"tenant_id" db:"tenant_id"`
	GroupID          string     `json:"group_id,omitempty" db:"group_id"`
	NCMFinal         string     `json:"ncm_final" db:"ncm_final"`
	CESTFinal        string     `json:"cest_final" db:"cest_final"`
	ConfidenceNCM    float64    `json:"confidence_ncm" db:"confidence_ncm"`
	ConfidenceCEST   float64    `json:"confidence_cest" db:"confidence_cest"`
	Status           Status     `json:"status" db:"status"`
	FlowKind         FlowKind   `json:"flow_kind" db:"flow_kind"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	PreviousID       string     `json:"previous_id,omitempty" db:"previous_id"`
	GoldenSetRef      *string   `json:"golden_set_ref,omitempty" db:"golden_set_ref"`
}
