package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/repository"
)

// BookRepo はインメモリの蔵書リポジトリ。
type BookRepo struct {
	s *Store
}

func (r *BookRepo) FindByID(ctx context.Context, id string) (*model.Book, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	b, ok := r.s.books[id]
	if !ok || b.DeletedAt != nil {
		return nil, nil
	}
	return copyBook(b), nil
}

func (r *BookRepo) FindByISBN(ctx context.Context, isbn string) (*model.Book, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.findByISBNLocked(isbn, ""), nil
}

func (s *Store) findByISBNLocked(isbn, exceptID string) *model.Book {
	for _, b := range s.books {
		if b.DeletedAt == nil && b.ID != exceptID && equalFold(b.ISBN, isbn) {
			return copyBook(b)
		}
	}
	return nil
}

func (r *BookRepo) List(ctx context.Context, filter model.BookFilter, page model.Page) ([]*model.Book, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(filter.Query))
	genre := strings.TrimSpace(filter.Genre)

	books := make([]*model.Book, 0)
	for _, b := range r.s.books {
		if b.DeletedAt != nil {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(b.Title), q) &&
			!strings.Contains(strings.ToLower(b.Author), q) &&
			!strings.Contains(strings.ToLower(b.ISBN), q) {
			continue
		}
		if genre != "" && b.Genre != genre {
			continue
		}
		if filter.AvailableOnly && b.AvailableCopies <= 0 {
			continue
		}
		books = append(books, copyBook(b))
	}

	sort.Slice(books, func(i, j int) bool {
		a, c := books[i], books[j]
		switch filter.Sort {
		case model.BookSortTitle:
			if a.Title != c.Title {
				return a.Title < c.Title
			}
			return a.ID < c.ID
		case model.BookSortAuthor:
			if a.Author != c.Author {
				return a.Author < c.Author
			}
			return a.ID < c.ID
		default:
			if !a.CreatedAt.Equal(c.CreatedAt) {
				return a.CreatedAt.After(c.CreatedAt)
			}
			return a.ID > c.ID
		}
	})
	return paginate(books, page), len(books), nil
}

func (r *BookRepo) Create(ctx context.Context, book *model.Book) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.findByISBNLocked(book.ISBN, "") != nil {
		return fmt.Errorf("failed to insert book: %w", repository.ErrUniqueViolation)
	}
	if book.AvailableCopies < 0 || book.AvailableCopies > book.TotalCopies {
		return fmt.Errorf("failed to insert book: %w", repository.ErrCheckViolation)
	}
	r.s.books[book.ID] = copyBook(book)
	return nil
}

// compile-time interface check
var _ repository.BookRepository = (*BookRepo)(nil)
