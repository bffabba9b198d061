/*
Package apperrors provides structured error handling for the migration and
validation pipelines.

It defines a single AppError type carrying a Code (one of the constants
below), a human-readable Message, and an optional wrapped cause. Sentinel
constructors (NotFound, InvalidArgument, Conflict, Internal, ...) cover the
common cases; Wrap attaches context to an arbitrary error without discarding
it, WithSnapshot tags an error with the snapshot id it concerns, and
Aggregate collects a batch of such errors, per the aggregate-error requirements of the
migration and validation pipelines.
*/
package apperrors
