// Package entity defines the persistent Member and Team models, the audit
// base and the explicit lazy reference used for many-to-one associations.
package entity
