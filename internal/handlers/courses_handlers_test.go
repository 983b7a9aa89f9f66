package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/codeak/portal/internal/models"
	"github.com/codeak/portal/pkg/utils"
	"gorm.io/gorm"
)

func createCourse(t *testing.T, env *testEnv, token, title string) uint {
	t.Helper()
	resp := performJSONRequest(t, env.app, http.MethodPost, "/courses", map[string]any{
		"title":       title,
		"description": "about " + title,
	}, authHeaders(token))
	body := decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusCreated)
	return uint(dataMap(t, body)["id"].(float64))
}

func courseOrders(t *testing.T, env *testEnv) map[uint]int {
	t.Helper()
	var courses []models.Course
	env.db.Find(&courses)
	orders := make(map[uint]int, len(courses))
	for _, c := range courses {
		orders[c.ID] = c.CourseOrder
	}
	return orders
}

func TestCoursesEndpoints(t *testing.T) {
	env := setupTestEnv(t)
	_, adminToken := createTestUser(t, env.db, "admin", "password123", models.UserRoleAdmin)
	_, mentorToken := createTestUser(t, env.db, "mentor", "password123", models.UserRoleMentor)
	student, studentToken := createTestUser(t, env.db, "student", "password123", models.UserRoleStudent)

	first := createCourse(t, env, adminToken, "Go basics")
	second := createCourse(t, env, adminToken, "Concurrency")

	t.Run("POST /courses appends and defaults to visible", func(t *testing.T) {
		orders := courseOrders(t, env)
		if orders[first] != 1 || orders[second] != 2 {
			t.Fatalf("expected orders 1 and 2, got %v", orders)
		}
		var course models.Course
		env.db.First(&course, first)
		if !course.Visible {
			t.Fatalf("expected new course to be visible")
		}
	})

	t.Run("POST /courses is admin only", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/courses", map[string]any{"title": "Nope"}, authHeaders(mentorToken))
		assertStatus(t, resp, http.StatusForbidden)
	})

	t.Run("PUT /courses/reorder with a non-integer order changes nothing", func(t *testing.T) {
		before := courseOrders(t, env)
		resp := performJSONRequest(t, env.app, http.MethodPut, "/courses/reorder", map[string]any{
			"courses": []map[string]any{
				{"id": first, "courseOrder": 2},
				{"id": second, "courseOrder": 1.5},
			},
		}, authHeaders(mentorToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusBadRequest)
		assertErrorCode(t, body, utils.CodeValidation)

		after := courseOrders(t, env)
		for id, order := range before {
			if after[id] != order {
				t.Fatalf("expected order of %d unchanged, got %d want %d", id, after[id], order)
			}
		}
	})

	t.Run("PUT /courses/reorder with a string id changes nothing", func(t *testing.T) {
		before := courseOrders(t, env)
		resp := performJSONRequest(t, env.app, http.MethodPut, "/courses/reorder", map[string]any{
			"courses": []map[string]any{
				{"id": first, "courseOrder": 2},
				{"id": "abc", "courseOrder": 1},
			},
		}, authHeaders(mentorToken))
		assertStatus(t, resp, http.StatusBadRequest)
		if after := courseOrders(t, env); after[first] != before[first] {
			t.Fatalf("expected no partial reorder")
		}
	})

	t.Run("PUT /courses/reorder with an unknown id rolls back", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPut, "/courses/reorder", map[string]any{
			"courses": []map[string]any{
				{"id": first, "courseOrder": 9},
				{"id": 9999, "courseOrder": 1},
			},
		}, authHeaders(mentorToken))
		assertStatus(t, resp, http.StatusNotFound)
		if orders := courseOrders(t, env); orders[first] != 1 {
			t.Fatalf("expected rollback, got order %d", orders[first])
		}
	})

	t.Run("PUT /courses/reorder applies a valid batch", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPut, "/courses/reorder", map[string]any{
			"courses": []map[string]any{
				{"id": first, "courseOrder": 2},
				{"id": second, "courseOrder": 1},
			},
		}, authHeaders(mentorToken))
		assertStatus(t, resp, http.StatusOK)
		if orders := courseOrders(t, env); orders[first] != 2 || orders[second] != 1 {
			t.Fatalf("expected swapped orders, got %v", orders)
		}
	})

	t.Run("PUT /courses/:id rejects an empty title", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPut, fmt.Sprintf("/courses/%d", first), map[string]any{
			"title": "  ",
		}, authHeaders(mentorToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusBadRequest)
		assertEnvelopeError(t, body, "title cannot be empty")
	})

	t.Run("GET /courses/view without a team returns not found", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/courses/view", nil, authHeaders(studentToken))
		assertStatus(t, resp, http.StatusNotFound)
	})

	t.Run("GET /courses/view shows the courses linked to the student's team", func(t *testing.T) {
		team := models.RankingEntry{TeamName: "gophers"}
		env.db.Create(&team)
		env.db.Model(student).Update("code_group", "gophers")

		resp := performJSONRequest(t, env.app, http.MethodPut, fmt.Sprintf("/team-courses/%d/teams", first), map[string]any{
			"teamIds": []uint{team.ID},
		}, authHeaders(mentorToken))
		assertStatus(t, resp, http.StatusOK)

		resp = performRequest(t, env.app, http.MethodGet, "/courses/view", nil, authHeaders(studentToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		list := dataList(t, body)
		if len(list) != 1 || uint(list[0].(map[string]any)["id"].(float64)) != first {
			t.Fatalf("expected only the linked course, got %v", list)
		}

		resp = performRequest(t, env.app, http.MethodGet, fmt.Sprintf("/team-courses/%d/teams", first), nil, authHeaders(mentorToken))
		body = decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		if teams := dataList(t, body); len(teams) != 1 || teams[0].(map[string]any)["teamName"] != "gophers" {
			t.Fatalf("unexpected course teams %v", teams)
		}
	})

	t.Run("PUT /team-courses/:courseId/teams rejects unknown teams", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPut, fmt.Sprintf("/team-courses/%d/teams", first), map[string]any{
			"teamIds": []uint{4242},
		}, authHeaders(mentorToken))
		assertStatus(t, resp, http.StatusNotFound)

		var links int64
		env.db.Model(&models.CourseTeam{}).Where("course_id = ?", first).Count(&links)
		if links != 1 {
			t.Fatalf("expected previous links to survive, got %d", links)
		}
	})

	t.Run("PUT /courses/:id/visibility toggles and hides from students", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodPut, fmt.Sprintf("/courses/%d/visibility", first), nil, authHeaders(mentorToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		if visible := dataMap(t, body)["visible"].(bool); visible {
			t.Fatalf("expected course to be hidden")
		}

		resp = performRequest(t, env.app, http.MethodGet, "/courses/view", nil, authHeaders(studentToken))
		body = decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		if list := dataList(t, body); len(list) != 0 {
			t.Fatalf("expected hidden course to disappear, got %v", list)
		}

		resp = performRequest(t, env.app, http.MethodGet, fmt.Sprintf("/courses/%d", first), nil, authHeaders(studentToken))
		assertStatus(t, resp, http.StatusNotFound)

		resp = performRequest(t, env.app, http.MethodPut, fmt.Sprintf("/courses/%d/visibility", first), nil, authHeaders(mentorToken))
		body = decodeJSONMap(t, resp)
		if visible := dataMap(t, body)["visible"].(bool); !visible {
			t.Fatalf("expected second toggle to show the course")
		}
	})

	t.Run("GET /courses lists hidden courses for staff only", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, "/courses", nil, authHeaders(studentToken))
		assertStatus(t, resp, http.StatusForbidden)

		resp = performRequest(t, env.app, http.MethodGet, "/courses", nil, authHeaders(adminToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		if list := dataList(t, body); len(list) != 2 {
			t.Fatalf("expected 2 courses, got %d", len(list))
		}
	})
}

func TestSectionsEndpoints(t *testing.T) {
	env := setupTestEnv(t)
	_, mentorToken := createTestUser(t, env.db, "mentor", "password123", models.UserRoleMentor)
	_, adminToken := createTestUser(t, env.db, "admin", "password123", models.UserRoleAdmin)
	_, studentToken := createTestUser(t, env.db, "student", "password123", models.UserRoleStudent)
	courseID := createCourse(t, env, adminToken, "Go basics")
	base := fmt.Sprintf("/courses/%d/sections", courseID)

	createSection := func(t *testing.T, title string) models.Section {
		t.Helper()
		resp := performJSONRequest(t, env.app, http.MethodPost, base, map[string]any{
			"sectionTitle": title,
			"contentMD":    "# " + title,
		}, authHeaders(mentorToken))
		assertStatus(t, resp, http.StatusCreated)
		var section models.Section
		env.db.Where("section_title = ?", title).First(&section)
		return section
	}

	intro := createSection(t, "Intro")
	loops := createSection(t, "Loops")

	t.Run("POST sections appends and writes the markdown body", func(t *testing.T) {
		if intro.SectionOrder != 1 || loops.SectionOrder != 2 {
			t.Fatalf("expected orders 1 and 2, got %d and %d", intro.SectionOrder, loops.SectionOrder)
		}
		if got := readStored(t, env.store, intro.FilePath); got != "# Intro" {
			t.Fatalf("unexpected markdown %q", got)
		}
	})

	t.Run("PUT sections/content replaces markdown and skips duplicate files", func(t *testing.T) {
		fields := map[string]string{
			"courseId":  fmt.Sprint(courseID),
			"sectionId": fmt.Sprint(intro.ID),
			"contentMD": "# Intro v2",
		}
		files := []uploadFile{{Field: "files", Name: "notes.txt", Contents: []byte("hello")}}

		resp := performMultipartRequest(t, env.app, http.MethodPut, base+"/content", fields, files, authHeaders(mentorToken))
		assertStatus(t, resp, http.StatusOK)

		resp = performMultipartRequest(t, env.app, http.MethodPut, base+"/content", fields, files, authHeaders(mentorToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		if skipped := dataMap(t, body)["skipped"].([]any); len(skipped) != 1 {
			t.Fatalf("expected duplicate to be skipped, got %v", skipped)
		}

		var count int64
		env.db.Model(&models.SectionAttachment{}).Where("section_id = ?", intro.ID).Count(&count)
		if count != 1 {
			t.Fatalf("expected one attachment, got %d", count)
		}
		assertStored(t, env.store, fmt.Sprintf("course_content/section-%d/notes.txt", intro.ID), true)
	})

	t.Run("GET sections/:sectionId returns markdown and attachments", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodGet, fmt.Sprintf("%s/%d", base, intro.ID), nil, authHeaders(studentToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		data := dataMap(t, body)
		if data["contentMD"] != "# Intro v2" {
			t.Fatalf("unexpected content %v", data["contentMD"])
		}
		if attachments := data["attachments"].([]any); len(attachments) != 1 {
			t.Fatalf("expected attachments, got %v", attachments)
		}
	})

	t.Run("PUT sections/reorder with a non-integer order changes nothing", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPut, base+"/reorder", map[string]any{
			"sections": []map[string]any{
				{"id": intro.ID, "order": 2},
				{"id": loops.ID, "order": "first"},
			},
		}, authHeaders(mentorToken))
		assertStatus(t, resp, http.StatusBadRequest)

		var reloaded models.Section
		env.db.First(&reloaded, intro.ID)
		if reloaded.SectionOrder != 1 {
			t.Fatalf("expected order unchanged, got %d", reloaded.SectionOrder)
		}
	})

	t.Run("PUT sections/visibility/:sectionId hides a section from students", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPut, fmt.Sprintf("%s/visibility/%d", base, loops.ID), map[string]any{
			"visible": false,
		}, authHeaders(mentorToken))
		assertStatus(t, resp, http.StatusOK)

		resp = performRequest(t, env.app, http.MethodGet, base+"/view", nil, authHeaders(studentToken))
		body := decodeJSONMap(t, resp)
		assertStatus(t, resp, http.StatusOK)
		if list := dataList(t, body); len(list) != 1 {
			t.Fatalf("expected one visible section, got %d", len(list))
		}

		resp = performRequest(t, env.app, http.MethodGet, fmt.Sprintf("%s/%d", base, loops.ID), nil, authHeaders(studentToken))
		assertStatus(t, resp, http.StatusNotFound)
	})

	t.Run("DELETE sections/:sectionId/attachments/:fileId removes file and row", func(t *testing.T) {
		var attachment models.SectionAttachment
		env.db.First(&attachment, "section_id = ?", intro.ID)

		resp := performRequest(t, env.app, http.MethodDelete, fmt.Sprintf("%s/%d/attachments/%d", base, intro.ID, attachment.ID), nil, authHeaders(mentorToken))
		assertStatus(t, resp, http.StatusOK)
		assertStored(t, env.store, attachment.FilePath, false)
	})

	t.Run("DELETE /courses/:id removes sections and their files", func(t *testing.T) {
		resp := performRequest(t, env.app, http.MethodDelete, fmt.Sprintf("/courses/%d", courseID), nil, authHeaders(mentorToken))
		assertStatus(t, resp, http.StatusOK)

		var sections int64
		env.db.Model(&models.Section{}).Where("course_id = ?", courseID).Count(&sections)
		if sections != 0 {
			t.Fatalf("expected sections to be deleted, got %d", sections)
		}
		assertStored(t, env.store, intro.FilePath, false)
		assertStored(t, env.store, loops.FilePath, false)
	})
}

func TestSectionAttachmentLostRaceKeepsWinner(t *testing.T) {
	env := setupTestEnv(t)
	_, mentorToken := createTestUser(t, env.db, "mentor", "password123", models.UserRoleMentor)
	_, adminToken := createTestUser(t, env.db, "admin", "password123", models.UserRoleAdmin)
	courseID := createCourse(t, env, adminToken, "Race")
	base := fmt.Sprintf("/courses/%d/sections", courseID)

	resp := performJSONRequest(t, env.app, http.MethodPost, base, map[string]any{"sectionTitle": "Only"}, authHeaders(mentorToken))
	assertStatus(t, resp, http.StatusCreated)
	var section models.Section
	env.db.Where("section_title = ?", "Only").First(&section)

	key := fmt.Sprintf("course_content/section-%d/guide.txt", section.ID)
	if err := saveText(context.Background(), env.store, key, "winner"); err != nil {
		t.Fatalf("failed seeding winner file: %v", err)
	}

	// Another upload commits the same filename between our listing and our insert.
	fired := false
	err := env.db.Callback().Create().Before("gorm:begin_transaction").Register("test:concurrent_attachment", func(tx *gorm.DB) {
		if fired || tx.Statement.Table != "section_attachments" {
			return
		}
		fired = true
		_, err := tx.Statement.ConnPool.ExecContext(tx.Statement.Context,
			"INSERT INTO section_attachments (course_id, section_id, filename, file_path, created_at) VALUES (?, ?, ?, ?, ?)",
			courseID, section.ID, "guide.txt", key, time.Now())
		if err != nil {
			_ = tx.AddError(err)
		}
	})
	if err != nil {
		t.Fatalf("failed registering callback: %v", err)
	}

	resp = performMultipartRequest(t, env.app, http.MethodPut, base+"/content", map[string]string{
		"sectionId": fmt.Sprint(section.ID),
	}, []uploadFile{{Field: "files", Name: "guide.txt", Contents: []byte("loser")}}, authHeaders(mentorToken))
	body := decodeJSONMap(t, resp)
	assertStatus(t, resp, http.StatusOK)

	if !fired {
		t.Fatal("expected the concurrent insert to run")
	}
	if skipped := dataMap(t, body)["skipped"].([]any); len(skipped) != 1 || skipped[0] != "guide.txt" {
		t.Fatalf("expected guide.txt to be skipped, got %v", skipped)
	}

	var rows []models.SectionAttachment
	env.db.Where("section_id = ?", section.ID).Find(&rows)
	if len(rows) != 1 || rows[0].FilePath != key {
		t.Fatalf("expected the winning row only, got %+v", rows)
	}
	if got := readStored(t, env.store, key); got != "winner" {
		t.Fatalf("expected the winner's file to survive, got %q", got)
	}
}
