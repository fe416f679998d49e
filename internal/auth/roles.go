package auth

// SystemTemplate describes a built-in role template seeded into every organization.
type SystemTemplate struct {
	Name         string
	Description  string
	DefaultScope AccessScope
	Permissions  PermissionSet
}

var (
	bookingBasics = NewPermissionSet(PermBookFlights, PermBookHotels, PermBookGround, PermEconomyClass, PermViewOwnBookings)
	bookingAll    = bookingBasics.With(PermBookOther, PermPremiumEconomyClass)
)

// SystemTemplates lists the built-in templates in seeding order.
func SystemTemplates() []SystemTemplate {
	return []SystemTemplate{
		{
			Name:         "Employee",
			Description:  "Standard employee with basic travel booking capabilities",
			DefaultScope: ScopeSelf,
			Permissions:  bookingBasics,
		},
		{
			Name:         "Manager",
			Description:  "Team manager with approval authority and business class access",
			DefaultScope: ScopeHierarchy,
			Permissions: bookingBasics.With(PermPremiumEconomyClass, PermBusinessClass, PermViewTeamBookings,
				PermApproveTravel, PermApproveExpenses, PermViewAnalytics),
		},
		{
			Name:         "Executive Assistant",
			Description:  "Can book for specific individuals assigned to them",
			DefaultScope: ScopeIndividuals,
			Permissions:  bookingAll,
		},
		{
			Name:         "Travel Coordinator",
			Description:  "Can book and view for specific groups or departments",
			DefaultScope: ScopeGroup,
			Permissions:  bookingAll.With(PermBusinessClass, PermViewTeamBookings, PermViewAnalytics),
		},
		{
			Name:         "Travel Admin",
			Description:  "Full access to all travel functions across the organization",
			DefaultScope: ScopeAll,
			Permissions:  AllPermissionSet(),
		},
		{
			Name:         "Executive",
			Description:  "Senior executive with first class access and policy override",
			DefaultScope: ScopeSelf,
			Permissions: bookingAll.With(PermBusinessClass, PermFirstClass, PermViewTeamBookings,
				PermApproveTravel, PermApproveExpenses, PermOverridePolicy, PermViewAnalytics),
		},
	}
}
