package simtime

// Strong integer ID types. Back-edges throughout schedsim (processor ->
// clock domain, cluster -> scheduler, ...) are these IDs looked up in an
// owning arena, never pointers into another component's storage.

// ProcessorTypeID identifies a platform.ProcessorType.
type ProcessorTypeID int

// ClockDomainID identifies a platform.ClockDomain.
type ClockDomainID int

// PowerDomainID identifies a platform.PowerDomain.
type PowerDomainID int

// ProcessorID identifies a platform.Processor.
type ProcessorID int

// TaskID identifies a platform.Task.
type TaskID int

// JobID identifies a sched.Job, unique within its task.
type JobID int

// ServerID identifies a sched.Server (one per task, within a scheduler).
type ServerID int

// ClusterID identifies an allocator cluster.
type ClusterID int

// Unset is the sentinel value for any of the above ID types when no entity
// is referenced.
const Unset = -1
