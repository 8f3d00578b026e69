package usecase

import (
	"fmt"

	"github.com/fairyhunter13/pagebroker/internal/domain"
)

// canReadJob reports whether caller may see j at all: admins see everything,
// owners see their own jobs, workers see the job they currently hold.
func canReadJob(caller domain.Key, j domain.Job) bool {
	switch caller.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleUser, domain.RoleReadonly:
		return caller.ID == j.OwnerKeyID
	case domain.RoleWorker:
		return j.WorkerKeyID != nil && *j.WorkerKeyID == caller.ID
	}
	return false
}

// requireOwnerWrite admits the owning user credential or an admin. Readonly
// owners may look but not touch.
func requireOwnerWrite(op string, caller domain.Key, j domain.Job) error {
	if caller.Role == domain.RoleAdmin {
		return nil
	}
	if caller.Role == domain.RoleUser && caller.ID == j.OwnerKeyID {
		return nil
	}
	return fmt.Errorf("op=%s key=%s: %w", op, caller.ID, domain.ErrForbidden)
}

func requireWorkerRole(op string, caller domain.Key) error {
	if caller.Role != domain.RoleWorker {
		return fmt.Errorf("op=%s key=%s role=%s: %w", op, caller.ID, caller.Role, domain.ErrForbidden)
	}
	return nil
}

func requireAdmin(op string, caller domain.Key) error {
	if caller.Role != domain.RoleAdmin {
		return fmt.Errorf("op=%s key=%s role=%s: %w", op, caller.ID, caller.Role, domain.ErrForbidden)
	}
	return nil
}

// requireHeldLease checks that caller is the worker recorded on j and that j
// is still in processing. Order matters: a job that left processing reports
// the state conflict even to its former worker.
func requireHeldLease(op string, caller domain.Key, j domain.Job) error {
	if j.State != domain.StateProcessing {
		return fmt.Errorf("op=%s job=%s state=%s: %w", op, j.ID, j.State, domain.ErrNotProcessing)
	}
	if j.WorkerKeyID == nil || *j.WorkerKeyID != caller.ID {
		return fmt.Errorf("op=%s job=%s key=%s: %w", op, j.ID, caller.ID, domain.ErrForbidden)
	}
	return nil
}
