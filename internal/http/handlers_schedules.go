package http

import (
	"net/http"

	"ricorrenti/internal/core"
	"ricorrenti/internal/log"
)

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, err := s.schedules.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	def, err := DecodeDefinition(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	st, err := s.schedules.Create(r.Context(), def)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.countCreated()
	s.structured.LogScheduleCreated(r.Context(), st.ID, st.AccountID, st.SignedAmount().String())

	w.Header().Set("Location", apiPrefix+"/"+st.ID)
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	days, err := ParseHorizonDays(r.URL.Query(), s.horizonDays)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := s.upcoming.GetUpcoming(r.Context(), days, s.today())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	st, err := s.schedules.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	def, err := DecodeDefinition(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	st, err := s.schedules.Update(r.Context(), r.PathValue("id"), def, s.today())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.schedules.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.countConfirmation()

	attempt, err := s.executor.ConfirmExecution(r.Context(), id, s.today())
	if err != nil {
		// A failed attempt still reports which occurrence was tried.
		if attempt.Outcome != "" {
			writeAttemptError(w, r, err, &attempt)
		} else {
			writeError(w, r, err)
		}
		return
	}
	s.structured.LogConfirmed(r.Context(), id, attempt.AttemptedDate.String(), string(attempt.Outcome), attempt.TransactionID)
	writeJSON(w, http.StatusOK, attempt)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.writeTransition(w, r, func(id string) (core.ScheduledTransaction, error) {
		return s.schedules.Pause(r.Context(), id)
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.writeTransition(w, r, func(id string) (core.ScheduledTransaction, error) {
		return s.schedules.Resume(r.Context(), id, s.today())
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.writeTransition(w, r, func(id string) (core.ScheduledTransaction, error) {
		return s.schedules.Cancel(r.Context(), id)
	})
}

func (s *Server) writeTransition(w http.ResponseWriter, r *http.Request, apply func(id string) (core.ScheduledTransaction, error)) {
	st, err := apply(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Schedule status changed",
		log.FieldScheduleID, st.ID,
		"status", st.Status)
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.schedules.ListTransactions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}
