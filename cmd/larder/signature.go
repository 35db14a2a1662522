package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/larder-app/larder/pkg/pantry"
	"github.com/larder-app/larder/pkg/signature"
)

func newSignatureCmd() *cobra.Command {
	var (
		user string
		top  int
	)

	cmd := &cobra.Command{
		Use:   "signature <pantry.yaml>",
		Short: "Print pantry signatures and priority ingredients",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := pantry.LoadFile(args[0])
			if err != nil {
				return err
			}

			ids := make([]string, 0, len(users))
			for id := range users {
				if user == "" || id == user {
					ids = append(ids, id)
				}
			}
			if len(ids) == 0 {
				return fmt.Errorf("no pantry for user %q", user)
			}
			sort.Strings(ids)

			now := time.Now()
			for _, id := range ids {
				items := users[id]
				fmt.Printf("%s\n  items:     %d\n  signature: %s\n  priority:  %v\n",
					id, len(items), signature.Pantry(items), pantry.PriorityIngredients(items, now, top))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "only this user")
	cmd.Flags().IntVar(&top, "top", pantry.DefaultPriority, "number of priority ingredients")
	return cmd
}
