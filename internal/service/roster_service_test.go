package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-kiosk-agent/internal/models"
	"github.com/noah-isme/sma-kiosk-agent/internal/repository"
	appErrors "github.com/noah-isme/sma-kiosk-agent/pkg/errors"
)

func studentsFrom(store *repository.SnapshotRepository) []models.StudentCacheEntry {
	var out []models.StudentCacheEntry
	store.View(func(snap *repository.Snapshot) {
		out = append([]models.StudentCacheEntry(nil), snap.Students...)
	})
	return out
}

func TestMergeStudentsInsertUpdateDelete(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Update(func(snap *repository.Snapshot) error {
		snap.Students = []models.StudentCacheEntry{
			{ID: "1", FullName: "Old Name", Course: "3A", BiometricEnrolled: true},
			{ID: "2", FullName: "Leaves School"},
		}
		return nil
	}))

	svc := NewRosterService(store, nil)
	err := svc.MergeStudents([]models.StudentCacheEntry{
		{ID: "1", FullName: "New Name", Course: "3B", PhotoURL: "http://p/1.jpg", PhotoConsent: true},
		{ID: "3", FullName: "Fresh Enrollment"},
	})
	require.NoError(t, err)

	students := studentsFrom(store)
	require.Len(t, students, 2)

	require.Equal(t, "1", students[0].ID)
	require.Equal(t, "New Name", students[0].FullName)
	require.Equal(t, "3B", students[0].Course)
	require.True(t, students[0].PhotoConsent)
	// Kiosk-local state survives the merge.
	require.True(t, students[0].BiometricEnrolled)

	require.Equal(t, "3", students[1].ID)
}

func TestMergeStudentsIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	svc := NewRosterService(store, nil)

	payload := []models.StudentCacheEntry{
		{ID: "1", FullName: "Ana"},
		{ID: "2", FullName: "Bruno"},
	}
	require.NoError(t, svc.MergeStudents(payload))
	once := studentsFrom(store)

	require.NoError(t, svc.MergeStudents(payload))
	twice := studentsFrom(store)

	require.Equal(t, once, twice)
}

func TestMergeRejectsEmptyPayloads(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Update(func(snap *repository.Snapshot) error {
		snap.Students = []models.StudentCacheEntry{{ID: "1", FullName: "Ana"}}
		snap.Teachers = []models.TeacherCacheEntry{{ID: "t1", FullName: "Carlos"}}
		snap.Tags = []models.Tag{{Token: "tok", StudentID: "1", Status: models.TagStatusActive}}
		return nil
	}))

	svc := NewRosterService(store, nil)

	err := svc.MergeStudents(nil)
	require.Equal(t, appErrors.ErrEmptyRoster.Code, appErrors.FromError(err).Code)
	err = svc.MergeTeachers([]models.TeacherCacheEntry{})
	require.Equal(t, appErrors.ErrEmptyRoster.Code, appErrors.FromError(err).Code)
	err = svc.ReplaceTags(nil)
	require.Equal(t, appErrors.ErrEmptyRoster.Code, appErrors.FromError(err).Code)

	students, teachers, tags := svc.Counts()
	require.Equal(t, 1, students)
	require.Equal(t, 1, teachers)
	require.Equal(t, 1, tags)
}

func TestReplaceTagsIsWholesale(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Update(func(snap *repository.Snapshot) error {
		snap.Tags = []models.Tag{
			{Token: "old-1", StudentID: "1", Status: models.TagStatusActive},
			{Token: "old-2", StudentID: "2", Status: models.TagStatusActive},
		}
		return nil
	}))

	svc := NewRosterService(store, nil)
	require.NoError(t, svc.ReplaceTags([]models.Tag{
		{Token: "new-1", StudentID: "1", Status: models.TagStatusActive},
	}))

	store.View(func(snap *repository.Snapshot) {
		require.Len(t, snap.Tags, 1)
		require.Equal(t, "new-1", snap.Tags[0].Token)
	})
}

func TestBiometricUpsertCreatesAndEnriches(t *testing.T) {
	store := newTestStore(t)
	svc := NewRosterService(store, nil)

	// A card-less student appears mid-session.
	require.NoError(t, svc.UpsertStudentFromBiometric(models.StudentCacheEntry{ID: "42", FullName: "Novo Aluno"}))

	students := studentsFrom(store)
	require.Len(t, students, 1)
	require.True(t, students[0].BiometricEnrolled)

	// A later hit enriches without duplicating.
	require.NoError(t, svc.UpsertStudentFromBiometric(models.StudentCacheEntry{ID: "42", PhotoURL: "http://p/42.jpg"}))
	students = studentsFrom(store)
	require.Len(t, students, 1)
	require.Equal(t, "Novo Aluno", students[0].FullName)
	require.Equal(t, "http://p/42.jpg", students[0].PhotoURL)

	// A bulk merge whose payload contains the student overwrites
	// server-owned fields but keeps the biometric flag.
	require.NoError(t, svc.MergeStudents([]models.StudentCacheEntry{{ID: "42", FullName: "Nome Oficial"}}))
	students = studentsFrom(store)
	require.Len(t, students, 1)
	require.Equal(t, "Nome Oficial", students[0].FullName)
	require.True(t, students[0].BiometricEnrolled)
}
