// Package license owns the license key lifecycle: the status state machine
// (INACTIVE, ACTIVE, SOLD, DELIVERED, USED), activation accounting against a
// configured cap, sale-time expiry computation, and the order fulfillment
// policy that decides between selling from stock and generating on demand.
//
// The package is written against small collaborator interfaces (Repository,
// Crypto, OrderFlags, ProductCatalog, SpecSource) so the storage and crypto
// layers stay swappable and the manager stays testable with fakes.
package license
