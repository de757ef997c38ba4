package workitem

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/mcp-jive/jive/internal/embedding"
	"github.com/mcp-jive/jive/internal/events"
	"github.com/mcp-jive/jive/internal/storage"
)

var _ = Describe("Progress propagation", func() {
	var (
		ctx     context.Context
		svc     *Service
		store   *storage.Engine
		epic    *WorkItem
		feature *WorkItem
		storyA  *WorkItem
		storyB  *WorkItem
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		store, err = storage.Open(
			filepath.Join(GinkgoT().TempDir(), "items.db"),
			[]storage.Schema{Schema()},
			embedding.NewLocal(64),
			zap.NewNop(),
		)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = store.Close() })
		svc = NewService(store, events.NewBus(16), zap.NewNop())

		epic = create(ctx, svc, &WorkItem{Type: TypeEpic, Title: "epic"})
		feature = create(ctx, svc, &WorkItem{Type: TypeFeature, Title: "feature", ParentID: epic.ID})
		storyA = create(ctx, svc, &WorkItem{Type: TypeStory, Title: "story a", ParentID: feature.ID})
		storyB = create(ctx, svc, &WorkItem{Type: TypeStory, Title: "story b", ParentID: feature.ID})
	})

	It("recomputes ancestors as the mean of their children", func() {
		st := StatusCompleted
		_, err := svc.UpdateProgress(ctx, storyA.ID, ProgressUpdate{Status: &st})
		Expect(err).NotTo(HaveOccurred())

		got, err := svc.Get(ctx, feature.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ProgressPercentage).To(BeNumerically("==", 50))
		Expect(got.Status).To(Equal(StatusInProgress))

		root, err := svc.Get(ctx, epic.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(root.ProgressPercentage).To(BeNumerically("==", 50))
	})

	It("completes the parent only when every child is terminal", func() {
		st := StatusCompleted
		_, err := svc.UpdateProgress(ctx, storyA.ID, ProgressUpdate{Status: &st})
		Expect(err).NotTo(HaveOccurred())
		_, err = svc.UpdateProgress(ctx, storyB.ID, ProgressUpdate{Status: &st})
		Expect(err).NotTo(HaveOccurred())

		got, err := svc.Get(ctx, feature.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(StatusCompleted))
		Expect(got.ProgressPercentage).To(BeNumerically("==", 100))
		Expect(got.CompletedAt).NotTo(BeNil())

		root, err := svc.Get(ctx, epic.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(root.Status).To(Equal(StatusCompleted))
	})

	It("skips propagation when disabled", func() {
		st := StatusCompleted
		off := false
		_, err := svc.UpdateProgress(ctx, storyA.ID, ProgressUpdate{Status: &st, Propagate: &off})
		Expect(err).NotTo(HaveOccurred())

		got, err := svc.Get(ctx, feature.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ProgressPercentage).To(BeNumerically("==", 0))
	})

	It("clamps explicit progress into [0, 100]", func() {
		over := 250.0
		got, err := svc.UpdateProgress(ctx, storyA.ID, ProgressUpdate{Progress: &over})
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ProgressPercentage).To(BeNumerically("==", 100))
		Expect(got.Status).To(Equal(StatusCompleted))

		under := -5.0
		got, err = svc.UpdateProgress(ctx, storyA.ID, ProgressUpdate{Progress: &under})
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ProgressPercentage).To(BeNumerically("==", 0))
	})

	It("rejects an empty update", func() {
		_, err := svc.UpdateProgress(ctx, storyA.ID, ProgressUpdate{})
		Expect(err).To(HaveOccurred())
	})

	Describe("RecalculateSubtree", func() {
		It("rebuilds parent progress from leaf statuses", func() {
			st := StatusCompleted
			off := false
			_, err := svc.UpdateProgress(ctx, storyA.ID, ProgressUpdate{Status: &st, Propagate: &off})
			Expect(err).NotTo(HaveOccurred())

			written, err := svc.RecalculateSubtree(ctx, epic.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(written).To(BeNumerically(">=", 1))

			got, err := svc.Get(ctx, feature.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ProgressPercentage).To(BeNumerically("==", 50))
		})

		It("is idempotent once converged", func() {
			_, err := svc.RecalculateSubtree(ctx, epic.ID)
			Expect(err).NotTo(HaveOccurred())

			written, err := svc.RecalculateSubtree(ctx, epic.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(written).To(BeZero())
		})
	})

	Describe("RecalculateAll", func() {
		It("covers every root", func() {
			st := StatusCompleted
			off := false
			_, err := svc.UpdateProgress(ctx, storyB.ID, ProgressUpdate{Status: &st, Propagate: &off})
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.RecalculateAll(ctx)
			Expect(err).NotTo(HaveOccurred())

			root, err := svc.Get(ctx, epic.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(root.ProgressPercentage).To(BeNumerically("==", 50))
		})
	})
})

func create(ctx context.Context, svc *Service, w *WorkItem) *WorkItem {
	GinkgoHelper()
	out, err := svc.Create(ctx, w)
	Expect(err).NotTo(HaveOccurred())
	return out
}
