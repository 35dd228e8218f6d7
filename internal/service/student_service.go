package service

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/haloedu/ujianku-backend/internal/model"
	"github.com/haloedu/ujianku-backend/internal/repository"
	"github.com/haloedu/ujianku-backend/internal/response"
)

// StudentService handles student account management.
type StudentService struct {
	studentRepo *repository.StudentRepository
}

// NewStudentService creates a new StudentService.
func NewStudentService(studentRepo *repository.StudentRepository) *StudentService {
	return &StudentService{studentRepo: studentRepo}
}

// GetByNISN retrieves a student by their NISN.
func (s *StudentService) GetByNISN(ctx context.Context, nisn string) (*model.Student, error) {
	return s.studentRepo.GetByNISN(ctx, nisn)
}

// GetByID retrieves a student by ID.
func (s *StudentService) GetByID(ctx context.Context, id int) (*model.Student, error) {
	return s.studentRepo.GetByID(ctx, id)
}

// ListStudents retrieves students with pagination.
func (s *StudentService) ListStudents(ctx context.Context, page, perPage int) ([]model.Student, *response.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}

	limit := perPage
	offset := (page - 1) * perPage

	students, total, err := s.studentRepo.List(ctx, limit, offset)
	if err != nil {
		return nil, nil, err
	}

	if students == nil {
		students = []model.Student{}
	}

	totalPages := (total + perPage - 1) / perPage

	pagination := &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: totalPages,
	}

	return students, pagination, nil
}

// Create inserts a new student with a hashed password. PasswordHash holds
// the plaintext on input and the bcrypt hash after.
func (s *StudentService) Create(ctx context.Context, student *model.Student) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(student.PasswordHash), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	student.PasswordHash = string(hashed)
	return s.studentRepo.Create(ctx, student)
}

// Update modifies a student's details. An empty password keeps the current one.
func (s *StudentService) Update(ctx context.Context, student *model.Student) error {
	if student.PasswordHash != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(student.PasswordHash), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		student.PasswordHash = string(hashed)
	}
	return s.studentRepo.Update(ctx, student)
}

// Delete removes a student by ID.
func (s *StudentService) Delete(ctx context.Context, id int) error {
	return s.studentRepo.Delete(ctx, id)
}
