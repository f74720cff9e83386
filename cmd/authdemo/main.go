// Command authdemo wires the auth engine against a seeded directory and a
// local store, and exercises login, session restore and the audit log from
// the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"flowcrm.org/internal/auth"
	"flowcrm.org/internal/kvstore"
	"flowcrm.org/internal/kvstore/sqlitekv"
	"flowcrm.org/internal/obs"
	"flowcrm.org/internal/token"
)

var version = "0.1.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, "dev")

	var (
		dbPath    = flag.String("db", "", "SQLite store path; empty keeps everything in memory")
		email     = flag.String("email", "", "email to log in with")
		secret    = flag.String("secret", "", "secret to log in with")
		doLogout  = flag.Bool("logout", false, "clear the current session and exit")
		showAudit = flag.Bool("audit", false, "print the audit log and exit")
	)
	flag.Parse()

	var store kvstore.Store
	if *dbPath != "" {
		s, err := sqlitekv.Open(*dbPath)
		if err != nil {
			log.Fatalf("open store: %v", err)
		}
		defer s.Close()
		store = s
	} else {
		store = kvstore.NewMemory()
	}

	engine, err := auth.NewEngine(seedDirectory(), store)
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch {
	case *showAudit:
		entries, err := engine.Audit().All(ctx)
		if err != nil {
			log.Fatalf("read audit log: %v", err)
		}
		for _, e := range entries {
			fmt.Printf("%s  %-6s  %-20s  %s\n",
				e.OccurredAt.Format(time.RFC3339), e.Action, e.AccountLabel, e.Details)
		}

	case *doLogout:
		engine.Logout(ctx)
		fmt.Println("session cleared")

	case *email != "":
		principal, err := engine.Login(ctx, *email, *secret)
		if err != nil {
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("logged in as %s <%s>\n", principal.Name, principal.Email)
		for _, module := range []string{"products", "customers", "reports", "paymentMethods", "userManagement", "presales"} {
			fmt.Printf("  %-16s %v\n", module, engine.CanAccessModule(principal, module))
		}
		if s := os.Getenv("FLOWCRM_TOKEN_SECRET"); s != "" {
			codec, err := token.NewCodec(s)
			if err != nil {
				log.Fatalf("token codec: %v", err)
			}
			signed, err := codec.Issue(principal, 15*time.Minute)
			if err != nil {
				log.Fatalf("issue token: %v", err)
			}
			fmt.Printf("token: %s\n", signed)
		}

	default:
		if engine.IsAuthenticated(ctx) {
			p, _ := engine.RestoreSession(ctx)
			fmt.Printf("active session: %s <%s>, issued %s\n",
				p.Name, p.Email, p.IssuedAt.Format(time.RFC3339))
			return
		}
		fmt.Println("no active session; use -email/-secret to log in")
	}
}

func seedDirectory() *auth.MemoryDirectory {
	dir := auth.NewMemoryDirectory()
	dir.Add(auth.Account{
		Name:   "Admin",
		Email:  "admin@flowcrm.test",
		Secret: "admin123",
		Active: true,
		Permissions: auth.PermissionGrant{
			Modules: map[auth.ModuleName]bool{
				auth.ModuleProducts:       true,
				auth.ModuleCustomers:      true,
				auth.ModuleReports:        true,
				auth.ModulePaymentMethods: true,
				auth.ModuleUserManagement: true,
			},
			Presales: auth.PresaleGrant{CanCreate: true, CanViewOwn: true, CanViewAll: true},
		},
	})
	dir.Add(auth.Account{
		Name:   "Sales Rep",
		Email:  "sales@flowcrm.test",
		Secret: "sales123",
		Active: true,
		Permissions: auth.PermissionGrant{
			Modules:  map[auth.ModuleName]bool{auth.ModuleProducts: true, auth.ModuleCustomers: true},
			Presales: auth.PresaleGrant{CanCreate: true, CanViewOwn: true},
		},
	})
	dir.Add(auth.Account{
		Name:   "Former Employee",
		Email:  "inactive@flowcrm.test",
		Secret: "gone123",
		Active: false,
		Permissions: auth.PermissionGrant{
			Modules: map[auth.ModuleName]bool{auth.ModuleProducts: true},
		},
	})
	return dir
}
