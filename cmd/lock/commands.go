package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/dLock/lib/lock"
	"github.com/spf13/cobra"
)

var (
	// acquireCmd represents the acquire command
	acquireCmd = &cobra.Command{
		Use:   "acquire [name]",
		Short: "Acquire a lock",
		Long:  "Acquire a lock and print the identifier of the hold. The identifier is needed to release or renew the lock from another process.",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	// releaseCmd represents the release command
	releaseCmd = &cobra.Command{
		Use:   "release [name]",
		Short: "Release one hold of a lock",
		Args:  cobra.ExactArgs(1),
		RunE:  runRelease,
	}

	// statusCmd represents the status command
	statusCmd = &cobra.Command{
		Use:   "status [name]",
		Short: "Print whether a lock is held (and the hold count of --id)",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}

	// forceUnlockCmd represents the force-unlock command
	forceUnlockCmd = &cobra.Command{
		Use:   "force-unlock [name]",
		Short: "Delete a lock regardless of its holder",
		Args:  cobra.ExactArgs(1),
		RunE:  runForceUnlock,
	}

	// renewCmd represents the renew command
	renewCmd = &cobra.Command{
		Use:   "renew [name]",
		Short: "Set a new lease on a held lock",
		Args:  cobra.ExactArgs(1),
		RunE:  runRenew,
	}
)

func init() {
	acquireCmd.Flags().Duration("lease", 30*time.Second, "Lease of the lock (0 for no lease)")
	acquireCmd.Flags().Duration("wait", 0, "How long to wait for the lock (0 makes a single attempt, negative waits forever)")

	releaseCmd.Flags().String("id", "", "Identifier printed by acquire")
	_ = releaseCmd.MarkFlagRequired("id")

	statusCmd.Flags().String("id", "", "Identifier printed by acquire (optional)")

	renewCmd.Flags().String("id", "", "Identifier printed by acquire")
	renewCmd.Flags().Duration("lease", 30*time.Second, "The new lease")
	_ = renewCmd.MarkFlagRequired("id")
}

// withLock creates a lock for name and an Owner context. If id is not empty
// the Owner adopts it, so the hold of another process can be continued.
func withLock(ctx context.Context, name, id string, fn func(ctx context.Context, l *lock.DistributedLock, owner *lock.Owner) error) error {
	l, err := lock.NewLock(name, gateway, nil)
	if err != nil {
		return err
	}
	defer l.Close()

	owner := lock.NewOwner()
	if id != "" {
		owner.Adopt(name, id)
	}
	return fn(lock.WithOwner(ctx, owner), l, owner)
}

// runAcquire handles the acquire lock command
func runAcquire(cmd *cobra.Command, args []string) error {
	name := args[0]
	lease, _ := cmd.Flags().GetDuration("lease")
	wait, _ := cmd.Flags().GetDuration("wait")

	return withLock(cmd.Context(), name, "", func(ctx context.Context, l *lock.DistributedLock, owner *lock.Owner) error {
		var acquired bool
		var err error
		if lease > 0 {
			acquired, err = l.TryLockTimed(ctx, wait, lease)
		} else {
			acquired, err = l.TryLockWait(ctx, wait)
		}
		if err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}

		if !acquired {
			fmt.Printf("acquired=false\n")
			return nil
		}

		id, _ := owner.Identifier(name)
		fmt.Printf("acquired=true, id=%s\n", id)
		return nil
	})
}

// runRelease handles the release lock command
func runRelease(cmd *cobra.Command, args []string) error {
	id, _ := cmd.Flags().GetString("id")

	return withLock(cmd.Context(), args[0], id, func(ctx context.Context, l *lock.DistributedLock, _ *lock.Owner) error {
		released, err := l.ReleaseLock(ctx)
		if err != nil {
			return fmt.Errorf("failed to release lock: %w", err)
		}
		fmt.Printf("released=%v\n", released)
		return nil
	})
}

// runStatus handles the status command
func runStatus(cmd *cobra.Command, args []string) error {
	id, _ := cmd.Flags().GetString("id")

	return withLock(cmd.Context(), args[0], id, func(ctx context.Context, l *lock.DistributedLock, _ *lock.Owner) error {
		locked, err := l.IsLocked(ctx)
		if err != nil {
			return fmt.Errorf("failed to read lock: %w", err)
		}
		if id == "" {
			fmt.Printf("locked=%v\n", locked)
			return nil
		}

		count, err := l.HoldCount(ctx)
		if err != nil {
			return fmt.Errorf("failed to read hold count: %w", err)
		}
		fmt.Printf("locked=%v, held=%v, holdCount=%d\n", locked, count > 0, count)
		return nil
	})
}

// runForceUnlock handles the force-unlock command
func runForceUnlock(cmd *cobra.Command, args []string) error {
	return withLock(cmd.Context(), args[0], "", func(ctx context.Context, l *lock.DistributedLock, _ *lock.Owner) error {
		deleted, err := l.ForceUnlock(ctx)
		if err != nil {
			return fmt.Errorf("failed to force unlock: %w", err)
		}
		fmt.Printf("deleted=%v\n", deleted)
		return nil
	})
}

// runRenew handles the renew command
func runRenew(cmd *cobra.Command, args []string) error {
	id, _ := cmd.Flags().GetString("id")
	lease, _ := cmd.Flags().GetDuration("lease")

	return withLock(cmd.Context(), args[0], id, func(ctx context.Context, l *lock.DistributedLock, _ *lock.Owner) error {
		renewed, err := l.RenewLeaseTime(ctx, lease)
		if err != nil {
			return fmt.Errorf("failed to renew lock: %w", err)
		}
		fmt.Printf("renewed=%v\n", renewed)
		return nil
	})
}
