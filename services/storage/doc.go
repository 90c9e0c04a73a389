/*
The storage package provides a key/value based interface for the durable state of epochflow:
committed epoch snapshots and the launch registry.

Every write that must be atomic goes through a single Update transaction.
Values are serialized by the owning service and stored opaquely.

A BoltDB backed implementation is used at runtime and an in memory
implementation is provided for tests.
*/
package storage
