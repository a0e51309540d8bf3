package tools

// RegisterAllTools registers all available tools with the registry
func RegisterAllTools(r *Registry) {
	registerUtilityTools(r)
	registerAthleteTools(r)
	registerActivityTools(r)
	registerRouteTools(r)
}

func registerUtilityTools(r *Registry) {
	r.MustRegister(ToolDefinition{
		Name:        "add",
		Description: "Add two numbers",
		InputSchema: BuildSchema(map[string]any{
			"a": NumberSchema("First addend"),
			"b": NumberSchema("Second addend"),
		}, []string{"a", "b"}),
		Annotations: &ToolAnnotations{Title: "Add", ReadOnlyHint: true, IdempotentHint: true},
	}, HandleAdd)
}

func registerAthleteTools(r *Registry) {
	r.MustRegister(ToolDefinition{
		Name:        "athlete.get",
		Description: "Get the profile of the authenticated Strava athlete",
		InputSchema: BuildSchema(map[string]any{}, nil),
		Annotations: readOnly("Athlete profile"),
	}, HandleGetAthlete)

	r.MustRegister(ToolDefinition{
		Name:        "athlete.stats",
		Description: "Get recent, year-to-date and all-time ride, run and swim totals for the authenticated athlete",
		InputSchema: BuildSchema(map[string]any{}, nil),
		Annotations: readOnly("Athlete stats"),
	}, HandleGetAthleteStats)

	r.MustRegister(ToolDefinition{
		Name:        "athlete.zones",
		Description: "Get the authenticated athlete's heart rate and power zones",
		InputSchema: BuildSchema(map[string]any{}, nil),
		Annotations: readOnly("Athlete zones"),
	}, HandleGetAthleteZones)
}

func registerActivityTools(r *Registry) {
	r.MustRegister(ToolDefinition{
		Name:        "activities.list",
		Description: "List the authenticated athlete's activities, newest first",
		InputSchema: PageSchema(map[string]any{
			"before": IntegerSchema("Only activities that started before this Unix timestamp", nil, nil),
			"after":  IntegerSchema("Only activities that started after this Unix timestamp", nil, nil),
		}),
		Annotations: readOnly("List activities"),
	}, HandleListActivities)

	getSchema := IDSchema("Strava activity ID")
	getSchema["properties"].(map[string]any)["includeAllEfforts"] = BooleanSchema("Include all segment efforts")
	r.MustRegister(ToolDefinition{
		Name:        "activities.get",
		Description: "Get a detailed activity owned by the authenticated athlete",
		InputSchema: getSchema,
		Annotations: readOnly("Get activity"),
	}, HandleGetActivity)

	min1 := 1
	r.MustRegister(ToolDefinition{
		Name:        "activities.update",
		Description: "Update an activity's name, description, sport type, gear or flags (requires activity:write)",
		InputSchema: BuildSchema(map[string]any{
			"id":           IntegerSchema("Strava activity ID", &min1, nil),
			"name":         StringSchema("New activity name"),
			"description":  StringSchema("New description"),
			"sportType":    EnumSchema("New sport type", sportTypes),
			"gearId":       StringSchema("Gear ID, or \"none\" to clear"),
			"commute":      BooleanSchema("Mark as commute"),
			"trainer":      BooleanSchema("Mark as trainer activity"),
			"hideFromHome": BooleanSchema("Mute the activity in followers' feeds"),
		}, []string{"id"}),
		Annotations: &ToolAnnotations{Title: "Update activity", IdempotentHint: true, OpenWorldHint: true},
	}, HandleUpdateActivity)
}

func registerRouteTools(r *Registry) {
	r.MustRegister(ToolDefinition{
		Name:        "routes.list",
		Description: "List routes created by the authenticated athlete",
		InputSchema: PageSchema(nil),
		Annotations: readOnly("List routes"),
	}, HandleListRoutes)
}
