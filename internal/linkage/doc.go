// Package linkage implements the rules that govern how a monitored host relates
// to the templates linked to it and to the discovery rule that created it.
//
// # Types
//
// Host is the aggregate root. It carries identity, discovery provenance and the
// ordered set of TemplateLink values, keyed by template ID.
//
// TemplateLink is a value object identified by (HostID, TemplateID). Its origin
// records whether the link was added by an operator or inherited from the host
// prototype that discovered the host.
//
// Entity is a dependent object (item, trigger, graph, discovery rule, web
// scenario) owned by a host. Entities created from a template carry that
// template's ID until the link is removed.
//
// # Operations
//
// Engine executes the mutating operations inside one store transaction each:
// create, update and delete of hosts, template attach, and template removal in
// one of two modes. UnlinkKeep strips the template tag from dependent entities
// and keeps them; UnlinkClear deletes them.
//
// Policy decides which host fields may change on a discovered host.
//
// # Storage
//
// Store and Tx describe the persistence the engine needs. The SQLite
// implementation lives in internal/db; linkagetest provides an in-memory one.
package linkage
