package models

// All lists every model managed by AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&User{},
		&RankingEntry{},
		&TeamMember{},
		&CourseTeam{},
		&Course{},
		&Section{},
		&SectionAttachment{},
		&News{},
		&NewsAttachment{},
		&Contact{},
		&Report{},
	}
}
