// dev-token prints a signed session token for local testing. Production
// tokens come from the auth service; this only shares API_SECRET with it.
//
// Usage:
//
//	go run ./cmd/dev-token -user-id 1 -role reviewer
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mmdatafocus/mrv_backend/utils"
	"github.com/mmdatafocus/mrv_backend/workflow"
)

func main() {
	userID := flag.Int("user-id", 0, "User id to put in the token.")
	role := flag.String("role", workflow.RoleFarmer, "farmer, reviewer or admin.")
	flag.Parse()

	if *userID <= 0 {
		fmt.Fprintln(os.Stderr, "-user-id is required")
		os.Exit(2)
	}
	switch *role {
	case workflow.RoleFarmer, workflow.RoleReviewer, workflow.RoleAdmin:
	default:
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}
	token, err := utils.JwtGenerate(*userID, *role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
