package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"taskdeck/internal/auth"
	"taskdeck/internal/events"
	"taskdeck/types"
)

func taskID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

// notifyTaskEvent fans a task mutation out to the websocket feed and the
// activity producer. Both are best-effort.
func (s *Server) notifyTaskEvent(r *http.Request, event events.EventType, userID string, taskID int64) {
	s.hub.BroadcastTaskEvent(userID, string(event), taskID)
	s.events.TaskEvent(r.Context(), event, userID, taskID)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	tasks, err := s.store.Tasks().ListByUser(r.Context(), user.ID)
	if err != nil {
		s.log.WithError(err).Error("failed to list tasks")
		writeStoreError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*types.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	var body types.TaskCreate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := body.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	task, err := s.store.Tasks().Create(r.Context(), user.ID, &body)
	if err != nil {
		s.log.WithError(err).Error("failed to create task")
		writeStoreError(w, err)
		return
	}

	s.notifyTaskEvent(r, events.TaskCreatedEvent, user.ID, task.ID)
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	id, err := taskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	task, err := s.store.Tasks().GetByID(r.Context(), id, user.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	id, err := taskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	var body types.TaskUpdate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := body.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	task, err := s.store.Tasks().Update(r.Context(), id, user.ID, &body)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	s.notifyTaskEvent(r, events.TaskUpdatedEvent, user.ID, task.ID)
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	id, err := taskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	var body types.CompletionUpdate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	task, err := s.store.Tasks().SetCompleted(r.Context(), id, user.ID, body.Completed)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	event := events.TaskUpdatedEvent
	if body.Completed {
		event = events.TaskCompletedEvent
	}
	s.notifyTaskEvent(r, event, user.ID, task.ID)
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	id, err := taskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	if err := s.store.Tasks().Delete(r.Context(), id, user.ID); err != nil {
		writeStoreError(w, err)
		return
	}

	s.notifyTaskEvent(r, events.TaskDeletedEvent, user.ID, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	var body types.BulkDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.TaskIDs) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "task_ids must not be empty")
		return
	}

	deleted, notFound, err := s.store.Tasks().BulkDelete(r.Context(), body.TaskIDs, user.ID)
	if err != nil {
		s.log.WithError(err).Error("bulk delete failed")
		writeStoreError(w, err)
		return
	}

	for _, id := range deleted {
		s.notifyTaskEvent(r, events.TaskDeletedEvent, user.ID, id)
	}
	writeJSON(w, http.StatusOK, types.BulkDeleteResponse{Deleted: deleted, NotFound: notFound})
}
