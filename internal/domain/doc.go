// Package domain contains the core business entities of the notifier: todo
// tasks, their owners, and the dedup records that remember which
// notifications have already gone out. It is independent of any storage or
// delivery mechanism.
package domain
