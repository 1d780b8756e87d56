package blackjack_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/edge-router/internal/blackjack"
	"github.com/angeloszaimis/edge-router/pkg/logger"
)

type gameView struct {
	Dealer  map[string]any   `json:"dealer"`
	Players []map[string]any `json:"players"`
	Results []string         `json:"results"`
	Turn    int              `json:"turn"`
	Status  string           `json:"status"`
}

var _ = Describe("Handler", func() {
	var h *blackjack.Handler

	do := func(method, path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
		return w
	}

	decode := func(w *httptest.ResponseRecorder) gameView {
		var view gameView
		Expect(json.Unmarshal(w.Body.Bytes(), &view)).To(Succeed())
		return view
	}

	BeforeEach(func() {
		store := blackjack.NewStore(stacked("10S 10H 5S 10D 6S 6H 5H 7D KC 7C"))
		h = blackjack.NewHandler(store, "backend-instance-2", logger.Discard())
	})

	It("should start a game and tag the response with the instance", func() {
		w := do(http.MethodPost, "/game/start/room-1", "")

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Header().Get("Content-Type")).To(Equal("application/json"))
		Expect(w.Header().Get(blackjack.InstanceHeader)).To(Equal("backend-instance-2"))

		view := decode(w)
		Expect(view.Players).To(HaveLen(3))
		Expect(view.Results).To(Equal([]string{"Playing", "Playing", "Playing"}))
		Expect(view.Status).To(Equal("playing"))
		Expect(w.Body.String()).NotTo(ContainSubstring("deck"))
	})

	It("should return the state of a started game", func() {
		do(http.MethodPost, "/game/start/room-1", "")

		w := do(http.MethodGet, "/game/state/room-1", "")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(decode(w).Dealer["cards"]).To(HaveLen(2))
	})

	It("should answer 404 for an unknown room", func() {
		w := do(http.MethodGet, "/game/state/nowhere", "")

		Expect(w.Code).To(Equal(http.StatusNotFound))
		Expect(w.Body.String()).To(Equal("Game not found\n"))
		Expect(w.Header().Get(blackjack.InstanceHeader)).To(Equal("backend-instance-2"))
	})

	It("should play a round through actions", func() {
		do(http.MethodPost, "/game/start/room-1", "")

		Expect(do(http.MethodPost, "/game/action/room-1", `{"player":0,"action":"stand"}`).Code).To(Equal(http.StatusOK))
		Expect(do(http.MethodPost, "/game/action/room-1", `{"player":1,"action":"hit"}`).Code).To(Equal(http.StatusOK))
		Expect(do(http.MethodPost, "/game/action/room-1", `{"player":2,"action":"hit"}`).Code).To(Equal(http.StatusOK))

		w := do(http.MethodPost, "/game/action/room-1", `{"player":2,"action":"stand"}`)
		Expect(w.Code).To(Equal(http.StatusOK))

		view := decode(w)
		Expect(view.Status).To(Equal("finished"))
		Expect(view.Turn).To(Equal(3))
		Expect(view.Results).To(Equal([]string{"Lose", "Bust", "Push"}))
	})

	It("should restart a room from scratch", func() {
		do(http.MethodPost, "/game/start/room-1", "")
		do(http.MethodPost, "/game/action/room-1", `{"player":0,"action":"stand"}`)

		view := decode(do(http.MethodPost, "/game/start/room-1", ""))
		Expect(view.Players[0]["done"]).To(BeFalse())
	})

	DescribeTable("should reject bad requests",
		func(path, body, expected string) {
			do(http.MethodPost, "/game/start/room-1", "")
			do(http.MethodPost, "/game/action/room-1", `{"player":0,"action":"stand"}`)

			w := do(http.MethodPost, path, body)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(w.Body.String()).To(Equal(expected + "\n"))
		},
		Entry("missing room on start", "/game/start/", "", "Missing gameroomid"),
		Entry("missing room on state", "/game/state/", "", "Missing gameroomid"),
		Entry("missing room on action", "/game/action/", `{}`, "Missing gameroomid"),
		Entry("unknown room", "/game/action/room-9", `{"player":1,"action":"hit"}`, "Game not found or not in playing state"),
		Entry("malformed body", "/game/action/room-1", `{"player":`, "Invalid input"),
		Entry("player out of range", "/game/action/room-1", `{"player":5,"action":"hit"}`, "Invalid player"),
		Entry("finished player", "/game/action/room-1", `{"player":0,"action":"hit"}`, "Player already finished"),
		Entry("unknown action", "/game/action/room-1", `{"player":1,"action":"split"}`, "Unknown action"),
	)

	It("should refuse actions on a finished game", func() {
		do(http.MethodPost, "/game/start/room-1", "")
		for _, body := range []string{
			`{"player":0,"action":"stand"}`,
			`{"player":1,"action":"stand"}`,
			`{"player":2,"action":"stand"}`,
		} {
			Expect(do(http.MethodPost, "/game/action/room-1", body).Code).To(Equal(http.StatusOK))
		}

		w := do(http.MethodPost, "/game/action/room-1", `{"player":0,"action":"hit"}`)
		Expect(w.Code).To(Equal(http.StatusBadRequest))
		Expect(w.Body.String()).To(Equal("Game not found or not in playing state\n"))
	})
})
