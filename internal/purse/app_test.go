package purse

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/gavel-io/gavel/internal/models"
)

type memRepo struct {
	teams map[uuid.UUID]*models.Team
}

func newMemRepo() *memRepo {
	return &memRepo{teams: make(map[uuid.UUID]*models.Team)}
}

func (r *memRepo) CreateTeam(_ context.Context, team *models.Team) error {
	r.teams[team.ID] = team
	return nil
}

func (r *memRepo) GetTeam(_ context.Context, id uuid.UUID) (*models.Team, error) {
	team, ok := r.teams[id]
	if !ok {
		return nil, errors.New("team not found")
	}
	return team, nil
}

func (r *memRepo) ListTeams(_ context.Context, ids []uuid.UUID) ([]*models.Team, error) {
	out := make([]*models.Team, 0, len(ids))
	for _, id := range ids {
		team, err := r.GetTeam(context.Background(), id)
		if err != nil {
			return nil, err
		}
		out = append(out, team)
	}
	return out, nil
}

func (r *memRepo) CreditTeam(_ context.Context, id uuid.UUID, amount decimal.Decimal) error {
	team, ok := r.teams[id]
	if !ok {
		return errors.New("team not found")
	}
	if team.PurseRemaining.Add(amount).GreaterThan(team.TotalPurse) {
		return errors.New("credit exceeds total purse")
	}
	team.PurseRemaining = team.PurseRemaining.Add(amount)
	return nil
}

func TestCreateTeamStartsWithFullPurse(t *testing.T) {
	app := NewApp(newMemRepo())

	team, err := app.CreateTeam(context.Background(), "Mumbai Mavericks", "MUM", decimal.NewFromInt(100))
	assert.Nil(t, err)

	check.Equal(t, "Mumbai Mavericks", team.Name)
	check.True(t, team.PurseRemaining.Equal(team.TotalPurse))
	check.True(t, team.PurseRemaining.Equal(decimal.NewFromInt(100)))
}

func TestCreateTeamRejectsNonPositivePurse(t *testing.T) {
	app := NewApp(newMemRepo())

	_, err := app.CreateTeam(context.Background(), "Mumbai Mavericks", "MUM", decimal.Zero)
	check.Error(t, err)

	_, err = app.CreateTeam(context.Background(), "", "MUM", decimal.NewFromInt(100))
	check.Error(t, err)
}

func TestCreditAddsToRemainingPurse(t *testing.T) {
	repo := newMemRepo()
	app := NewApp(repo)

	team, err := app.CreateTeam(context.Background(), "Delhi Dynamos", "DEL", decimal.NewFromInt(80))
	assert.Nil(t, err)

	// A sale took 10 off the purse; the correction returns 5 of it.
	repo.teams[team.ID].PurseRemaining = decimal.NewFromInt(70)

	err = app.Credit(context.Background(), team.ID, decimal.NewFromInt(5))
	assert.Nil(t, err)

	got, err := app.GetTeam(context.Background(), team.ID)
	assert.Nil(t, err)
	check.True(t, got.PurseRemaining.Equal(decimal.NewFromInt(75)))
}

func TestCreditCannotExceedTotalPurse(t *testing.T) {
	repo := newMemRepo()
	app := NewApp(repo)

	team, err := app.CreateTeam(context.Background(), "Delhi Dynamos", "DEL", decimal.NewFromInt(80))
	assert.Nil(t, err)
	repo.teams[team.ID].PurseRemaining = decimal.NewFromInt(70)

	// Crediting more than was ever debited is refused outright.
	check.Error(t, app.Credit(context.Background(), team.ID, decimal.NewFromInt(11)))

	got, err := app.GetTeam(context.Background(), team.ID)
	assert.Nil(t, err)
	check.True(t, got.PurseRemaining.Equal(decimal.NewFromInt(70)))

	// Topping back up to exactly the total is allowed.
	assert.Nil(t, app.Credit(context.Background(), team.ID, decimal.NewFromInt(10)))
	got, err = app.GetTeam(context.Background(), team.ID)
	assert.Nil(t, err)
	check.True(t, got.PurseRemaining.Equal(got.TotalPurse))
}

func TestCreditRejectsNonPositiveAmount(t *testing.T) {
	repo := newMemRepo()
	app := NewApp(repo)

	team, err := app.CreateTeam(context.Background(), "Delhi Dynamos", "DEL", decimal.NewFromInt(80))
	assert.Nil(t, err)

	check.Error(t, app.Credit(context.Background(), team.ID, decimal.Zero))
	check.Error(t, app.Credit(context.Background(), team.ID, decimal.NewFromInt(-1)))
}

func TestListTeamsPreservesOrder(t *testing.T) {
	app := NewApp(newMemRepo())

	a, err := app.CreateTeam(context.Background(), "Chennai Chargers", "CHE", decimal.NewFromInt(100))
	assert.Nil(t, err)
	b, err := app.CreateTeam(context.Background(), "Kolkata Kings", "KOL", decimal.NewFromInt(100))
	assert.Nil(t, err)

	teams, err := app.ListTeams(context.Background(), []uuid.UUID{b.ID, a.ID})
	assert.Nil(t, err)
	assert.Equal(t, 2, len(teams))
	check.Equal(t, b.ID, teams[0].ID)
	check.Equal(t, a.ID, teams[1].ID)
}
