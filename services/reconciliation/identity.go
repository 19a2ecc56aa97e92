package reconciliation

import (
	"fmt"
	"strings"
	"unicode"

	"incentive-controlplane/services/seller"
)

const DefaultOrgIDDigits = 14

type IdentityMatch string

const (
	MatchedOrganization IdentityMatch = "ORGANIZATION"
	MatchedParent       IdentityMatch = "PARENT"
)

type IdentityResult struct {
	OK     bool
	Via    IdentityMatch
	Reason string
}

// NormalizeOrgID keeps only the digits of raw. Ids without exactly digits digits are malformed.
func NormalizeOrgID(raw string, digits int) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	out := b.String()
	return out, len(out) == digits
}

// ReconcileIdentity accepts a row declared for the seller's own organization or for its parent.
func ReconcileIdentity(rowOrgID string, id seller.Identity) IdentityResult {
	return IdentityReconciler{}.Reconcile(rowOrgID, id)
}

// IdentityReconciler compares organization ids of a fixed digit count. Zero Digits means 14.
type IdentityReconciler struct {
	Digits int
}

func (r IdentityReconciler) Reconcile(rowOrgID string, id seller.Identity) IdentityResult {
	digits := r.Digits
	if digits <= 0 {
		digits = DefaultOrgIDDigits
	}

	if !id.HasOrganization() {
		return IdentityResult{Reason: fmt.Sprintf("seller %s has no organization on file", id.SellerID)}
	}

	row, ok := NormalizeOrgID(rowOrgID, digits)
	if !ok {
		return IdentityResult{Reason: fmt.Sprintf("malformed organization id in spreadsheet: %q", rowOrgID)}
	}

	if own, ok := NormalizeOrgID(id.OrgTaxID, digits); ok && own == row {
		return IdentityResult{OK: true, Via: MatchedOrganization}
	}

	if id.ParentTaxID != "" {
		if parent, ok := NormalizeOrgID(id.ParentTaxID, digits); ok && parent == row {
			return IdentityResult{OK: true, Via: MatchedParent}
		}
	}

	own, _ := NormalizeOrgID(id.OrgTaxID, digits)
	parent, _ := NormalizeOrgID(id.ParentTaxID, digits)
	return IdentityResult{
		Reason: fmt.Sprintf("organization mismatch: spreadsheet %s, seller organization %s, parent %s", row, own, orEmpty(parent)),
	}
}

func orEmpty(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}
