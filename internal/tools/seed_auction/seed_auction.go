package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gavel-io/gavel/internal/dbconfig"
)

// Team mirrors the JSON snapshot
type Team struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ShortName  string `json:"short_name"`
	TotalPurse string `json:"total_purse"`
}

// Player mirrors the JSON snapshot
type Player struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	BasePrice string `json:"base_price"`
}

func main() {
	// 1) Load the JSON snapshots
	var teams []Team
	if err := loadJSON("internal/assets/teams.json", &teams); err != nil {
		fmt.Fprintf(os.Stderr, "load teams: %v\n", err)
		os.Exit(1)
	}
	var players []Player
	if err := loadJSON("internal/assets/players.json", &players); err != nil {
		fmt.Fprintf(os.Stderr, "load players: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(context.Background(), cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Upsert and count
	var inserted, skipped, errs int
	for _, t := range teams {
		cmdTag, err := pool.Exec(context.Background(), `
            INSERT INTO teams (id, name, short_name, total_purse, purse_remaining)
            VALUES ($1, $2, $3, $4, $4)
            ON CONFLICT (id) DO NOTHING
        `, t.ID, t.Name, t.ShortName, t.TotalPurse)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting team %s: %v\n", t.ID, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}

	for _, p := range players {
		cmdTag, err := pool.Exec(context.Background(), `
            INSERT INTO players (id, name, role, base_price)
            VALUES ($1, $2, $3, $4)
            ON CONFLICT (id) DO NOTHING
        `, p.ID, p.Name, p.Role, p.BasePrice)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting player %s: %v\n", p.ID, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}

	// 4) Print summary
	fmt.Printf(
		"Auction seed complete: %d teams, %d players, %d inserted, %d skipped, %d errors\n",
		len(teams), len(players), inserted, skipped, errs,
	)
}

func loadJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return nil
}
