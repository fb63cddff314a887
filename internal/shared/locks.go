package shared

// Advisory lock keys for postgres pg_advisory_xact_lock. Operations that
// mutate the same entity must take the same key so that concurrent calls are
// serialized per entity, not globally.
const (
	purchaseRequestLockClass   = int64(4201) << 32
	supplierQuotationLockClass = int64(4202) << 32
)

// PurchaseRequestLockKey builds the advisory lock key for a request id.
func PurchaseRequestLockKey(requestID int64) int64 {
	return purchaseRequestLockClass | (requestID & 0xFFFFFFFF)
}

// SupplierQuotationLockKey builds the advisory lock key for a supplier
// quotation id.
func SupplierQuotationLockKey(supplierQuotationID int64) int64 {
	return supplierQuotationLockClass | (supplierQuotationID & 0xFFFFFFFF)
}
