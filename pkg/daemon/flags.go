package daemon

// RepairFlag requests that an add-to-store operation repair an existing
// path in place rather than merely validate it. A remote Client always
// rejects RepairYes; see ErrRepairUnsupported.
type RepairFlag bool

const (
	RepairNo  RepairFlag = false
	RepairYes RepairFlag = true
)

// CheckSigsFlag controls whether the daemon verifies signatures on
// imported paths.
type CheckSigsFlag bool

const (
	CheckSigs     CheckSigsFlag = false
	DontCheckSigs CheckSigsFlag = true
)

// Recursive selects NAR (recursive) hashing over flat file hashing when
// adding a path to the store.
type Recursive bool

const (
	Flat         Recursive = false
	RecursiveNAR Recursive = true
)

// SubstituteFlag controls whether the daemon may substitute a path from a
// binary cache instead of building it.
type SubstituteFlag bool

const (
	NoSubstitute SubstituteFlag = false
	Substitute   SubstituteFlag = true
)
