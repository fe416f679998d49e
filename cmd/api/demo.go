package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"tripwise.org/internal/auth"
	"tripwise.org/internal/booking"
	"tripwise.org/internal/directory"
	"tripwise.org/internal/obs"
	"tripwise.org/internal/policy"
)

const demoOrg = "01J0DEMO0RG000000000000000"

// demoSettings mirrors the policy document of the SQL demo seed.
type demoSettings struct{}

func (demoSettings) PolicySettings(_ context.Context, organizationID string) (policy.Settings, error) {
	if organizationID != demoOrg {
		return policy.Settings{}, policy.ErrSettingsNotFound
	}
	s := policy.DefaultSettings()
	s.Mode = policy.ModeOnlyWhenNecessary
	return s, nil
}

// memoryBackend builds in-process stores holding the same organization and
// employees as the SQL demo seed, with system templates assigned.
func memoryBackend(ctx context.Context) (backend, error) {
	dir := directory.NewMemory(
		auth.Employee{ID: "01J0DEMOCE0000000000000000", OrganizationID: demoOrg, Email: "ceo@demo.example", FullName: "Dana Chief", JobTitle: "CEO", Department: "Executive", Active: true},
		auth.Employee{ID: "01J0DEMOMGR000000000000000", OrganizationID: demoOrg, Email: "manager@demo.example", FullName: "Morgan Lead", JobTitle: "Sales Director", Department: "Sales", ManagerID: "01J0DEMOCE0000000000000000", Active: true},
		auth.Employee{ID: "01J0DEMOEMP000000000000000", OrganizationID: demoOrg, Email: "employee@demo.example", FullName: "Eli Rep", JobTitle: "Account Executive", Department: "Sales", ManagerID: "01J0DEMOMGR000000000000000", Active: true},
	)
	roles := auth.NewMemoryRoleStore()
	svc, err := auth.NewRoleService(roles, dir)
	if err != nil {
		return backend{}, err
	}
	if _, err := svc.SeedSystemTemplates(ctx, demoOrg); err != nil {
		return backend{}, fmt.Errorf("seed templates: %w", err)
	}
	for employeeID, template := range map[string]string{
		"01J0DEMOCE0000000000000000": "Travel Admin",
		"01J0DEMOMGR000000000000000": "Manager",
		"01J0DEMOEMP000000000000000": "Employee",
	} {
		tpl, err := roles.FindTemplateByName(ctx, demoOrg, template)
		if err != nil {
			return backend{}, err
		}
		if _, err := roles.CreateAssignment(ctx, auth.Assignment{
			EmployeeID: employeeID,
			TemplateID: tpl.ID,
			Scope:      tpl.DefaultScope,
			Active:     true,
		}); err != nil {
			return backend{}, err
		}
	}
	obs.Logger().Info("demo organization ready", zap.String("organization_id", demoOrg))
	return backend{
		bookings: booking.NewMemoryStore(),
		roles:    roles,
		dir:      dir,
		settings: demoSettings{},
	}, nil
}
