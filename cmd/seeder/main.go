/*
main.go - Demo data seeder

PURPOSE:
  Populates a database with demo accounts and a plausible stream of
  activity so the API has something to show on first run. Runs the real
  engine against the real store; only the mirror is stubbed.

USAGE:
  ./seeder -db="./data/bank.db"

  # Seed and print resulting balances
  ./seeder -db=":memory:" (useful only for a smoke run)
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"

	"github.com/warp/bank-ledger/ledger"
	"github.com/warp/bank-ledger/mirror"
	"github.com/warp/bank-ledger/store/sqlite"
)

var seedNames = []string{
	"Asha Nair",
	"Rohan Mehta",
	"Priya Sharma",
	"Vikram Iyer",
	"Meera Kulkarni",
}

var seedCauses = []string{
	"salary credit",
	"utility bill",
	"groceries",
	"rent",
	"festival shopping",
	"loan repayment",
}

func main() {
	dbPath := flag.String("db", "bank.db", "SQLite database path")
	flag.Parse()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	engine := ledger.NewEngine(store, &mirror.Stub{})
	ctx := context.Background()

	accounts := make([]ledger.Account, 0, len(seedNames))
	for _, name := range seedNames {
		a, err := engine.CreateAccount(ctx, name)
		if err != nil {
			log.Fatalf("Failed to create account for %s: %v", name, err)
		}
		accounts = append(accounts, a)
		log.Printf("Created account %s (%s)", a.Number, a.Name)
	}

	// Opening deposits so later withdrawals and transfers never bounce.
	for _, a := range accounts {
		amount := int64(500_00 + rand.Intn(4500_00))
		if _, err := engine.Deposit(ctx, a.ID, amount, "payroll", "salary credit"); err != nil {
			log.Fatalf("Failed opening deposit: %v", err)
		}
	}

	// Random activity.
	for i := 0; i < 40; i++ {
		from := accounts[rand.Intn(len(accounts))]
		cause := seedCauses[rand.Intn(len(seedCauses))]
		amount := int64(10_00 + rand.Intn(200_00))

		switch rand.Intn(3) {
		case 0:
			_, err = engine.Deposit(ctx, from.ID, amount, "payroll", cause)
		case 1:
			_, err = engine.Withdraw(ctx, from.ID, amount, "atm", cause)
		default:
			to := accounts[rand.Intn(len(accounts))]
			if to.ID == from.ID {
				continue
			}
			_, err = engine.Transfer(ctx, from.ID, to.Number, amount, "", cause)
		}
		if err != nil && !ledger.IsClientError(err) {
			log.Fatalf("Seeding failed: %v", err)
		}
	}

	for _, a := range accounts {
		current, err := store.GetAccount(ctx, a.ID)
		if err != nil {
			log.Fatalf("Failed to read back account: %v", err)
		}
		fmt.Printf("%s  %-16s ₹%d.%02d\n",
			current.Number, current.Name, current.Balance/100, current.Balance%100)
	}
	log.Printf("Seeded %d accounts into %s", len(accounts), *dbPath)
}
